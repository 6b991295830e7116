package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"potamesh/internal/eventbus"
	"potamesh/internal/mesh"
	"potamesh/internal/metrics"
	logx "potamesh/pkg/logx"
)

type ReceiverConfig struct {
	Topic string
	// NodeID is the relay's own node number; frames from it are echoes and ignored.
	NodeID uint32
}

// Receiver is the inbound bridge: broker frames in, Received events out.
type Receiver struct {
	cfg      ReceiverConfig
	dialer   mesh.Dialer
	codec    mesh.Codec
	received *eventbus.Bus[Received]
	log      logx.Logger
	m        *metrics.Metrics
}

func NewReceiver(cfg ReceiverConfig, dialer mesh.Dialer, codec mesh.Codec, received *eventbus.Bus[Received], log logx.Logger, m *metrics.Metrics) (*Receiver, error) {
	switch {
	case dialer == nil:
		return nil, errors.New("receiver: dialer is nil")
	case codec == nil:
		return nil, errors.New("receiver: codec is nil")
	case received == nil:
		return nil, errors.New("receiver: received bus is nil")
	case strings.TrimSpace(cfg.Topic) == "":
		return nil, errors.New("receiver: subscribe topic is empty")
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Receiver{cfg: cfg, dialer: dialer, codec: codec, received: received, log: log, m: m}, nil
}

func (r *Receiver) Run(ctx context.Context) error {
	conn, err := r.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("receive bridge: connect: %w", err)
	}
	defer conn.Close()

	frames, err := conn.Subscribe(ctx, r.cfg.Topic)
	if err != nil {
		return fmt.Errorf("receive bridge: %w", err)
	}
	r.log.Info("receive bridge subscribed", logx.String("topic", r.cfg.Topic))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return fmt.Errorf("receive bridge: %w", connErr(conn))
		case frame := <-frames:
			r.handle(frame)
		}
	}
}

func (r *Receiver) handle(frame []byte) {
	msg, err := r.codec.Decode(frame)
	if err != nil {
		r.m.FramesDropped.Inc()
		r.log.Trace("dropping undecodable frame", logx.Err(err))
		return
	}
	if r.cfg.NodeID != 0 && msg.From == r.cfg.NodeID {
		return
	}
	r.m.FramesReceived.WithLabelValues(msg.Type).Inc()
	r.log.Debug("received message",
		logx.String("type", msg.Type),
		logx.String("from", mesh.FormatNodeID(msg.From)),
		logx.String("to", mesh.FormatNodeID(msg.To)),
	)
	r.received.Publish(Received{Message: msg})
}
