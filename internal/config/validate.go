package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"potamesh/internal/mesh"
	logx "potamesh/pkg/logx"
)

const (
	DefaultSourceTimeout   = 15 * time.Second
	DefaultScrapeInterval  = 30 * time.Second
	DefaultMQTTPort        = 1883
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultReconnectMin    = time.Second
	DefaultReconnectMax    = time.Minute
	DefaultPollTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMetricsAddr     = "127.0.0.1:9464"
	DefaultMetricsPath     = "/metrics"
)

// Settings are the parsed, defaulted values derived from a Config.
type Settings struct {
	SourceTimeout   time.Duration
	ScrapeInterval  time.Duration
	MaxAge          time.Duration
	ConnectTimeout  time.Duration
	KeepAlive       time.Duration
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	PollTimeout     time.Duration
	ShutdownTimeout time.Duration

	Port        int
	NodeID      uint32
	Destination uint32
	Allow       []uint32

	MetricsAddr string
	MetricsPath string
}

// Resolve validates cfg and returns its parsed settings.
// All problems are reported together.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var (
		errs []error
		s    Settings
	)
	// dur parses a non-negative Go duration; blank or zero means def.
	dur := func(path, raw string, def time.Duration) time.Duration {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err))
		case d < 0:
			errs = append(errs, fmt.Errorf("%s: duration must be >= 0", path))
		case d > 0:
			return d
		}
		return def
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}

	s.SourceTimeout = dur("source.timeout", cfg.Source.Timeout, DefaultSourceTimeout)
	s.ScrapeInterval = dur("scrape.interval", cfg.Scrape.Interval, DefaultScrapeInterval)
	s.MaxAge = dur("scrape.max_age", cfg.Scrape.MaxAge, 0)
	if sched := strings.TrimSpace(cfg.Scrape.PruneSchedule); sched != "" {
		if _, err := cron.ParseStandard(sched); err != nil {
			errs = append(errs, fmt.Errorf("scrape.prune_schedule: %w", err))
		}
		if s.MaxAge <= 0 {
			errs = append(errs, errors.New("scrape.max_age: required when prune_schedule is set"))
		}
	}

	m := cfg.Mesh
	if strings.TrimSpace(m.Host) == "" {
		errs = append(errs, errors.New("mesh.host: required"))
	}
	s.Port = m.Port
	if s.Port == 0 {
		s.Port = DefaultMQTTPort
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("mesh.port: %d out of range", m.Port))
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, fmt.Errorf("mesh.qos: must be 0, 1 or 2"))
	}
	if strings.TrimSpace(m.PublishTopic) == "" {
		errs = append(errs, errors.New("mesh.publish_topic: required"))
	}
	if strings.TrimSpace(m.SubscribeTopic) == "" {
		errs = append(errs, errors.New("mesh.subscribe_topic: required"))
	}
	if id, err := mesh.ParseNodeID(m.NodeID); err != nil {
		errs = append(errs, fmt.Errorf("mesh.node_id: %w", err))
	} else if id == mesh.Broadcast {
		errs = append(errs, errors.New("mesh.node_id: broadcast address is not a node"))
	} else {
		s.NodeID = id
	}
	s.Destination = mesh.Broadcast
	if strings.TrimSpace(m.Destination) != "" {
		id, err := mesh.ParseNodeID(m.Destination)
		if err != nil {
			errs = append(errs, fmt.Errorf("mesh.destination: %w", err))
		}
		s.Destination = id
	}
	if m.PublishRate < 0 {
		errs = append(errs, errors.New("mesh.publish_rate: must be >= 0"))
	}
	if m.PublishBurst < 0 {
		errs = append(errs, errors.New("mesh.publish_burst: must be >= 0"))
	}
	s.ConnectTimeout = dur("mesh.connect_timeout", m.ConnectTimeout, DefaultConnectTimeout)
	s.KeepAlive = dur("mesh.keep_alive", m.KeepAlive, DefaultKeepAlive)
	s.ReconnectMin = dur("mesh.reconnect_min", m.ReconnectMin, DefaultReconnectMin)
	s.ReconnectMax = dur("mesh.reconnect_max", m.ReconnectMax, DefaultReconnectMax)
	if s.ReconnectMax < s.ReconnectMin {
		errs = append(errs, errors.New("mesh.reconnect_max: must be >= reconnect_min"))
	}

	for i, raw := range cfg.Commands.Mesh.Allow {
		id, err := mesh.ParseNodeID(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("commands.mesh.allow[%d]: %w", i, err))
			continue
		}
		s.Allow = append(s.Allow, id)
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" && len(cfg.Telegram.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids: required when token is set"))
	}
	s.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout)

	s.MetricsAddr = strings.TrimSpace(cfg.Metrics.Addr)
	if s.MetricsAddr == "" {
		s.MetricsAddr = DefaultMetricsAddr
	}
	s.MetricsPath = strings.TrimSpace(cfg.Metrics.Path)
	if s.MetricsPath == "" {
		s.MetricsPath = DefaultMetricsPath
	}
	if !strings.HasPrefix(s.MetricsPath, "/") {
		errs = append(errs, errors.New("metrics.path: must start with /"))
	}

	s.ShutdownTimeout = dur("app.shutdown_timeout", cfg.App.ShutdownTimeout, DefaultShutdownTimeout)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate reports whether cfg can be resolved.
func Validate(cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}

// LogConfig maps the logging section to the logger's runtime config.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}
