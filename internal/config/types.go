package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// Durations are Go duration strings ("500ms", "30s", "1m"). Empty or zero
// durations fall back to the documented defaults.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Source   SourceConfig   `json:"source"`
	Scrape   ScrapeConfig   `json:"scrape"`
	Relay    RelayConfig    `json:"relay"`
	Mesh     MeshConfig     `json:"mesh"`
	Commands CommandsConfig `json:"commands"`
	Telegram TelegramConfig `json:"telegram"`
	Metrics  MetricsConfig  `json:"metrics"`
	App      AppConfig      `json:"app"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig points at the upstream spot API.
//
// Defaults:
//   - url: https://api.pota.app/v1/spots
//   - timeout: "15s"
type SourceConfig struct {
	URL       string `json:"url,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ScrapeConfig controls the poll loop and optional registry pruning.
//
// Pruning runs only when both prune_schedule (standard cron or "@every 1h")
// and max_age are set.
type ScrapeConfig struct {
	Interval      string `json:"interval,omitempty"` // default "30s"
	PruneSchedule string `json:"prune_schedule,omitempty"`
	MaxAge        string `json:"max_age,omitempty"`
}

// RelayConfig holds the initial relay state. Enabled is a pointer so an
// omitted key can default to true.
type RelayConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// MeshConfig describes the MQTT broker and the relay's identity on the mesh.
//
// Node ids accept "!a1b2c3d4", bare hex or a decimal node number.
// Password is never logged.
type MeshConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"` // default 1883
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	QoS      int    `json:"qos,omitempty"`

	PublishTopic   string `json:"publish_topic"`
	SubscribeTopic string `json:"subscribe_topic"`

	NodeID      string `json:"node_id"`
	Destination string `json:"destination,omitempty"` // default broadcast
	Channel     int    `json:"channel,omitempty"`
	LongName    string `json:"long_name,omitempty"`
	ShortName   string `json:"short_name,omitempty"`
	HWModel     int    `json:"hw_model,omitempty"`

	// PublishRate is messages per second; 0 disables pacing.
	PublishRate  float64 `json:"publish_rate,omitempty"`
	PublishBurst int     `json:"publish_burst,omitempty"`

	ConnectTimeout string `json:"connect_timeout,omitempty"` // default "10s"
	KeepAlive      string `json:"keep_alive,omitempty"`      // default "30s"
	ReconnectMin   string `json:"reconnect_min,omitempty"`   // default "1s"
	ReconnectMax   string `json:"reconnect_max,omitempty"`   // default "1m"
}

type CommandsConfig struct {
	Mesh MeshCommandsConfig `json:"mesh"`
}

// MeshCommandsConfig enables enable/disable commands sent as direct messages
// to the relay node. An empty allow list accepts any sender.
type MeshCommandsConfig struct {
	Enabled bool     `json:"enabled"`
	Allow   []string `json:"allow,omitempty"`
}

// TelegramConfig enables the optional bot command channel when Token is set.
type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"` // default "10s"
}

// MetricsConfig controls the Prometheus endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9464").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"` // default "/metrics"
	// Pprof also serves net/http/pprof under /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

type AppConfig struct {
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"` // default "10s"
}

// RelayEnabled returns the initial relay state.
func (c *Config) RelayEnabled() bool {
	if c == nil || c.Relay.Enabled == nil {
		return true
	}
	return *c.Relay.Enabled
}
