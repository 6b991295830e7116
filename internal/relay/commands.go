package relay

import (
	"context"
	"errors"
	"strings"

	"potamesh/internal/eventbus"
	"potamesh/internal/mesh"
	"potamesh/internal/metrics"
	logx "potamesh/pkg/logx"
)

// Verbs understood by the command task.
const (
	VerbEnable  = "enable"
	VerbDisable = "disable"
	VerbStatus  = "status"
)

// ParseVerb returns the lowercased first word of text, without a leading "/"
// or a trailing "@botname".
func ParseVerb(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	verb := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i]
	}
	return strings.ToLower(verb)
}

// Commander applies operator commands to the relay State. It is the State's only writer.
type Commander struct {
	commands *eventbus.Bus[Command]
	state    *State
	log      logx.Logger
	m        *metrics.Metrics
}

func NewCommander(commands *eventbus.Bus[Command], state *State, log logx.Logger, m *metrics.Metrics) (*Commander, error) {
	if commands == nil {
		return nil, errors.New("commander: command bus is nil")
	}
	if state == nil {
		return nil, errors.New("commander: state is nil")
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Commander{commands: commands, state: state, log: log, m: m}, nil
}

func (c *Commander) Run(ctx context.Context) error {
	events, unsub := c.commands.Subscribe(16)
	defer unsub()
	c.log.Info("command processor started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-events:
			if !ok {
				return nil
			}
			c.Handle(cmd)
		}
	}
}

// Handle applies one command. Unknown verbs are logged and ignored.
func (c *Commander) Handle(cmd Command) {
	verb := ParseVerb(cmd.Text)
	log := c.log.With(logx.String("from", cmd.From), logx.String("source", cmd.Source))
	log.Info("received command", logx.String("command", cmd.Text))

	switch verb {
	case VerbEnable:
		changed := c.state.Set(true)
		log.Info("publishing enabled", logx.Bool("changed", changed))
	case VerbDisable:
		changed := c.state.Set(false)
		log.Info("publishing disabled", logx.Bool("changed", changed))
	case VerbStatus:
		log.Info("relay status", logx.Bool("enabled", c.state.Enabled()))
	default:
		c.m.Commands.WithLabelValues(cmd.Source, "unknown").Inc()
		log.Warn("unknown command", logx.String("command", cmd.Text))
		return
	}
	c.m.Commands.WithLabelValues(cmd.Source, verb).Inc()
}

type MeshCommandConfig struct {
	// NodeID is the relay's node number; only direct messages to it are commands.
	NodeID uint32
	// Allow restricts which nodes may send commands. Empty allows any node.
	Allow []uint32
}

// MeshCommands turns direct text messages to the relay node into commands.
type MeshCommands struct {
	cfg      MeshCommandConfig
	received *eventbus.Bus[Received]
	commands *eventbus.Bus[Command]
	allow    map[uint32]struct{}
	log      logx.Logger
}

func NewMeshCommands(cfg MeshCommandConfig, received *eventbus.Bus[Received], commands *eventbus.Bus[Command], log logx.Logger) (*MeshCommands, error) {
	if received == nil || commands == nil {
		return nil, errors.New("mesh commands: bus is nil")
	}
	if cfg.NodeID == 0 || cfg.NodeID == mesh.Broadcast {
		return nil, errors.New("mesh commands: relay node id required")
	}
	allow := make(map[uint32]struct{}, len(cfg.Allow))
	for _, id := range cfg.Allow {
		allow[id] = struct{}{}
	}
	return &MeshCommands{cfg: cfg, received: received, commands: commands, allow: allow, log: log}, nil
}

func (f *MeshCommands) Run(ctx context.Context) error {
	events, unsub := f.received.Subscribe(32)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if cmd, ok := f.Filter(ev.Message); ok && f.commands.Publish(cmd) == 0 {
				f.log.Warn("command dropped; command queue full", logx.String("from", cmd.From), logx.String("text", cmd.Text))
			}
		}
	}
}

// Filter reports whether msg is a command and converts it.
func (f *MeshCommands) Filter(msg mesh.Message) (Command, bool) {
	if msg.Type != mesh.TypeText || !msg.IsDirect(f.cfg.NodeID) {
		return Command{}, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Command{}, false
	}
	from := mesh.FormatNodeID(msg.From)
	if len(f.allow) > 0 {
		if _, ok := f.allow[msg.From]; !ok {
			f.log.Warn("ignoring command from unauthorized node", logx.String("from", from))
			return Command{}, false
		}
	}
	return Command{Text: msg.Text, From: from, Source: SourceMesh}, true
}
