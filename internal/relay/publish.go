package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"potamesh/internal/eventbus"
	"potamesh/internal/mesh"
	"potamesh/internal/metrics"
	logx "potamesh/pkg/logx"
)

// publishBuffer is how many batches may queue while the bridge is busy or reconnecting.
const publishBuffer = 16

type PublisherConfig struct {
	Topic string
	// NodeID is the relay's own node number, used as "from".
	NodeID uint32
	// Destination defaults to mesh.Broadcast.
	Destination uint32
	Channel     int
	Node        mesh.NodeInfo
	// Rate paces outbound messages; zero means unlimited.
	Rate  rate.Limit
	Burst int
}

// Publisher is the outbound bridge: new spots in, mesh text messages out.
type Publisher struct {
	cfg     PublisherConfig
	dialer  mesh.Dialer
	codec   mesh.Codec
	spots   *eventbus.Bus[NewSpots]
	state   *State
	limiter *rate.Limiter
	log     logx.Logger
	m       *metrics.Metrics

	// The subscription outlives individual Run calls so spots found while
	// the bridge is (re)connecting are buffered rather than missed.
	events <-chan NewSpots
	unsub  func()
}

func NewPublisher(cfg PublisherConfig, dialer mesh.Dialer, codec mesh.Codec, spots *eventbus.Bus[NewSpots], state *State, log logx.Logger, m *metrics.Metrics) (*Publisher, error) {
	switch {
	case dialer == nil:
		return nil, errors.New("publisher: dialer is nil")
	case codec == nil:
		return nil, errors.New("publisher: codec is nil")
	case spots == nil:
		return nil, errors.New("publisher: spot bus is nil")
	case state == nil:
		return nil, errors.New("publisher: state is nil")
	case strings.TrimSpace(cfg.Topic) == "":
		return nil, errors.New("publisher: publish topic is empty")
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.Destination == 0 {
		cfg.Destination = mesh.Broadcast
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(cfg.Rate, burst)
	}
	events, unsub := spots.Subscribe(publishBuffer)
	return &Publisher{
		cfg:     cfg,
		dialer:  dialer,
		codec:   codec,
		spots:   spots,
		state:   state,
		limiter: lim,
		log:     log,
		m:       m,
		events:  events,
		unsub:   unsub,
	}, nil
}

// Close drops the spot subscription; a running Run returns nil.
func (p *Publisher) Close() { p.unsub() }

// Run connects, announces the node once and relays spot batches until ctx
// is canceled or the connection is lost. A lost connection is returned as an
// error so the supervisor can restart the bridge.
func (p *Publisher) Run(ctx context.Context) error {
	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("publish bridge: connect: %w", err)
	}
	defer conn.Close()

	p.announce(ctx, conn)
	p.log.Info("publish bridge ready", logx.String("topic", p.cfg.Topic))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return fmt.Errorf("publish bridge: %w", connErr(conn))
		case ev, ok := <-p.events:
			if !ok {
				return nil
			}
			if err := p.relay(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) announce(ctx context.Context, conn mesh.Conn) {
	node := p.cfg.Node
	if node.ID == "" {
		node.ID = mesh.FormatNodeID(p.cfg.NodeID)
	}
	b, err := p.codec.Encode(mesh.Message{From: p.cfg.NodeID, Channel: p.cfg.Channel, Type: mesh.TypeNodeInfo, Node: &node})
	if err == nil {
		err = conn.Publish(ctx, p.cfg.Topic, b)
	}
	if err != nil {
		p.m.Announcements.WithLabelValues("error").Inc()
		p.log.Error("error publishing node info", logx.Err(err))
		return
	}
	p.m.Announcements.WithLabelValues("ok").Inc()
	p.log.Debug("published node info", logx.String("node", node.ID))
}

// relay publishes one batch. Per-message failures are logged and skipped;
// only cancellation aborts the batch with an error.
func (p *Publisher) relay(ctx context.Context, conn mesh.Conn, ev NewSpots) error {
	if !p.state.Enabled() {
		p.m.Suppressed.Add(float64(len(ev.Spots)))
		p.log.Info("relay disabled; not publishing new spots", logx.Int("count", len(ev.Spots)))
		return nil
	}

	p.log.Debug("publishing new spots", logx.Int("count", len(ev.Spots)))
	for _, sp := range ev.Spots {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("publish pacing failed", logx.Err(err))
		}
		b, err := p.codec.Encode(mesh.Message{
			From:    p.cfg.NodeID,
			To:      p.cfg.Destination,
			Channel: p.cfg.Channel,
			Type:    mesh.TypeSendText,
			Text:    sp.String(),
		})
		if err == nil {
			err = conn.Publish(ctx, p.cfg.Topic, b)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.m.PublishErrors.Inc()
			p.log.Error("error publishing spot", logx.String("key", sp.Key()), logx.Err(err))
			if errors.Is(err, mesh.ErrNotConnected) {
				// The rest of the batch would fail the same way; Run notices Done next.
				return nil
			}
			continue
		}
		p.m.Published.Inc()
	}
	return nil
}

func connErr(conn mesh.Conn) error {
	if err := conn.Err(); err != nil {
		return err
	}
	return mesh.ErrNotConnected
}
