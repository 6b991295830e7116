package mesh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	logx "potamesh/pkg/logx"
)

type MQTTConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// ClientID is a prefix; every connection appends a random suffix so the
	// publish and receive bridges never kick each other off the broker.
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	// InboundBuffer bounds queued inbound frames per subscription.
	InboundBuffer int
}

// MQTTDialer connects to the broker with paho. Automatic reconnect is off:
// a lost connection ends the owning task and the supervisor decides what next.
type MQTTDialer struct {
	cfg MQTTConfig
	log logx.Logger
}

func NewMQTTDialer(cfg MQTTConfig, log logx.Logger) *MQTTDialer {
	if cfg.Port <= 0 {
		cfg.Port = 1883
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = "potamesh"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 64
	}
	return &MQTTDialer{cfg: cfg, log: log}
}

func (d *MQTTDialer) Dial(ctx context.Context) (Conn, error) {
	clientID := d.cfg.ClientID + "-" + uuid.NewString()[:8]
	c := &mqttConn{
		qos:    d.cfg.QoS,
		buffer: d.cfg.InboundBuffer,
		log:    d.log.With(logx.String("client_id", clientID)),
		done:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", d.cfg.Host, d.cfg.Port)).
		SetClientID(clientID).
		SetUsername(d.cfg.Username).
		SetPassword(d.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(d.cfg.ConnectTimeout).
		SetKeepAlive(d.cfg.KeepAlive).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.fail(fmt.Errorf("%w: %v", ErrNotConnected, err))
		})
	c.client = mqtt.NewClient(opts)

	if err := wait(ctx, c.client.Connect()); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s:%d: %w", d.cfg.Host, d.cfg.Port, err)
	}
	c.log.Debug("mqtt connected", logx.String("host", d.cfg.Host), logx.Int("port", d.cfg.Port))
	return c, nil
}

type mqttConn struct {
	client mqtt.Client
	qos    byte
	buffer int
	log    logx.Logger

	once    sync.Once
	done    chan struct{}
	err     atomic.Value // stores error
	dropped atomic.Uint64
}

func (c *mqttConn) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	return wait(ctx, c.client.Publish(topic, c.qos, false, payload))
}

func (c *mqttConn) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, c.buffer)
	tok := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, m mqtt.Message) {
		// Never block paho's router.
		select {
		case ch <- m.Payload():
		default:
			if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
				c.log.Warn("inbound frames dropped (consumer slow)", logx.Uint64("count", n))
			}
		}
	})
	if err := wait(ctx, tok); err != nil {
		return nil, fmt.Errorf("mqtt subscribe %q: %w", topic, err)
	}
	return ch, nil
}

func (c *mqttConn) Done() <-chan struct{} { return c.done }

func (c *mqttConn) Err() error {
	if v, ok := c.err.Load().(error); ok {
		return v
	}
	return nil
}

func (c *mqttConn) Close() error {
	c.once.Do(func() {
		c.err.Store(ErrNotConnected)
		c.client.Disconnect(250)
		close(c.done)
	})
	return nil
}

func (c *mqttConn) fail(err error) {
	c.once.Do(func() {
		c.err.Store(err)
		c.log.Warn("mqtt connection lost", logx.Err(err))
		close(c.done)
	})
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
		return tok.Error()
	}
}
