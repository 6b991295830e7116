package config

import (
	"reflect"
	"sort"
	"strings"

	logx "potamesh/pkg/logx"
)

// LiveSections can be applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeChange returns the changed section names (sorted) and safe
// structured attrs for logging. Secrets (mesh password, telegram token) are
// reported only as "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.url", newCfg.Source.URL),
			logx.String("source.timeout", newCfg.Source.Timeout),
		)
	}
	if oldCfg.Scrape != newCfg.Scrape {
		changed = append(changed, "scrape")
		attrs = append(attrs,
			logx.String("scrape.interval", newCfg.Scrape.Interval),
			logx.String("scrape.prune_schedule", newCfg.Scrape.PruneSchedule),
			logx.String("scrape.max_age", newCfg.Scrape.MaxAge),
		)
	}
	if oldCfg.RelayEnabled() != newCfg.RelayEnabled() {
		changed = append(changed, "relay")
		attrs = append(attrs, logx.Bool("relay.enabled", newCfg.RelayEnabled()))
	}

	om, nm := oldCfg.Mesh, newCfg.Mesh
	omPass, nmPass := om.Password != "", nm.Password != ""
	om.Password, nm.Password = "", ""
	if om != nm || omPass != nmPass {
		changed = append(changed, "mesh")
		attrs = append(attrs,
			logx.String("mesh.host", nm.Host),
			logx.Int("mesh.port", nm.Port),
			logx.String("mesh.node_id", nm.NodeID),
			logx.String("mesh.publish_topic", nm.PublishTopic),
			logx.String("mesh.subscribe_topic", nm.SubscribeTopic),
			logx.Bool("mesh.password_set", nmPass),
		)
	}

	if !reflect.DeepEqual(oldCfg.Commands, newCfg.Commands) {
		changed = append(changed, "commands")
		attrs = append(attrs,
			logx.Bool("commands.mesh.enabled", newCfg.Commands.Mesh.Enabled),
			logx.Int("commands.mesh.allow_count", len(newCfg.Commands.Mesh.Allow)),
		)
	}

	oTok := strings.TrimSpace(oldCfg.Telegram.Token)
	nTok := strings.TrimSpace(newCfg.Telegram.Token)
	if oTok != nTok ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", nTok != ""),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
		)
	}
	if oldCfg.App != newCfg.App {
		changed = append(changed, "app")
		attrs = append(attrs, logx.String("app.shutdown_timeout", newCfg.App.ShutdownTimeout))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed down to sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
