package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"potamesh/internal/config"
	"potamesh/internal/mesh"
	"potamesh/internal/metrics"
	"potamesh/internal/relay"
	"potamesh/internal/runtime/supervisor"
	"potamesh/internal/source/pota"
	"potamesh/internal/transport/telegram"
	logx "potamesh/pkg/logx"
)

// App wires the relay pipeline from a config file.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	set  *config.Settings

	log  logx.Logger
	logs *logx.Service

	reg   *prometheus.Registry
	m     *metrics.Metrics
	state *relay.State
	buses relay.Buses

	group    *Group
	closers  []func()
	stopOnce sync.Once
}

// Option customizes New. Mostly for tests.
type Option func(*options)

type options struct {
	dialer mesh.Dialer
}

// WithDialer replaces the MQTT dialer.
func WithDialer(d mesh.Dialer) Option { return func(o *options) { o.dialer = d } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	set, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(cfg.LogConfig())
	cfgm.SetLogger(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a := &App{
		cfgm:  cfgm,
		cfg:   cfg,
		set:   set,
		log:   log.Comp("app"),
		logs:  logs,
		reg:   reg,
		m:     metrics.New(reg),
		state: relay.NewState(cfg.RelayEnabled()),
		buses: relay.NewBuses(),
	}
	metrics.RelayEnabled(reg, a.state.Enabled)
	metrics.BusDropped(reg, "spots", a.buses.Spots.Dropped)
	metrics.BusDropped(reg, "received", a.buses.Received.Dropped)
	metrics.BusDropped(reg, "commands", a.buses.Commands.Dropped)

	dialer := o.dialer
	if dialer == nil {
		dialer = mesh.NewMQTTDialer(mesh.MQTTConfig{
			Host:           cfg.Mesh.Host,
			Port:           set.Port,
			Username:       cfg.Mesh.Username,
			Password:       cfg.Mesh.Password,
			ClientID:       cfg.Mesh.ClientID,
			QoS:            byte(cfg.Mesh.QoS),
			ConnectTimeout: set.ConnectTimeout,
			KeepAlive:      set.KeepAlive,
		}, log.Comp("mqtt"))
	}

	tasks, err := a.tasks(dialer)
	if err != nil {
		logs.Close()
		return nil, err
	}
	a.group = NewGroup(log.Comp("supervisor"), tasks...)
	return a, nil
}

func (a *App) tasks(dialer mesh.Dialer) ([]Task, error) {
	cfg, set := a.cfg, a.set
	codec := mesh.JSONCodec{}
	comp := func(name string) logx.Logger { return a.logs.Logger().Comp(name) }
	bridgeBackoff := supervisor.WithRestartBackoff(set.ReconnectMin, set.ReconnectMax)
	serviceBackoff := supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second)
	restart := func(name string, backoff supervisor.RestartOption) []supervisor.RestartOption {
		restarts := a.m.TaskRestarts.WithLabelValues(name)
		return []supervisor.RestartOption{backoff, supervisor.WithOnRestart(func(error) { restarts.Inc() })}
	}

	src := pota.New(pota.Config{URL: cfg.Source.URL, Timeout: set.SourceTimeout, UserAgent: cfg.Source.UserAgent})
	scraper, err := relay.NewScraper(relay.ScraperConfig{
		Interval:      set.ScrapeInterval,
		PruneSchedule: cfg.Scrape.PruneSchedule,
		MaxAge:        set.MaxAge,
	}, src, a.buses.Spots, comp("scrape"), a.m)
	if err != nil {
		return nil, err
	}

	var lim rate.Limit
	if cfg.Mesh.PublishRate > 0 {
		lim = rate.Limit(cfg.Mesh.PublishRate)
	}
	publisher, err := relay.NewPublisher(relay.PublisherConfig{
		Topic:       cfg.Mesh.PublishTopic,
		NodeID:      set.NodeID,
		Destination: set.Destination,
		Channel:     cfg.Mesh.Channel,
		Node: mesh.NodeInfo{
			ID:        mesh.FormatNodeID(set.NodeID),
			LongName:  cfg.Mesh.LongName,
			ShortName: cfg.Mesh.ShortName,
			HWModel:   cfg.Mesh.HWModel,
		},
		Rate:  lim,
		Burst: cfg.Mesh.PublishBurst,
	}, dialer, codec, a.buses.Spots, a.state, comp("mesh.publish"), a.m)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, publisher.Close)

	receiver, err := relay.NewReceiver(relay.ReceiverConfig{
		Topic:  cfg.Mesh.SubscribeTopic,
		NodeID: set.NodeID,
	}, dialer, codec, a.buses.Received, comp("mesh.receive"), a.m)
	if err != nil {
		return nil, err
	}

	commander, err := relay.NewCommander(a.buses.Commands, a.state, comp("commands"), a.m)
	if err != nil {
		return nil, err
	}

	tasks := []Task{
		{Name: "scrape", Run: scraper.Run},
		{Name: "commands", Run: commander.Run},
		{Name: "mesh.publish", Run: publisher.Run, Restart: true, RestartOpts: restart("mesh.publish", bridgeBackoff)},
		{Name: "mesh.receive", Run: receiver.Run, Restart: true, RestartOpts: restart("mesh.receive", bridgeBackoff)},
		{Name: "config.watch", Run: a.cfgm.Watch},
		{Name: "config.reload", Run: a.reloadLoop},
	}

	if cfg.Commands.Mesh.Enabled {
		mc, err := relay.NewMeshCommands(relay.MeshCommandConfig{NodeID: set.NodeID, Allow: set.Allow}, a.buses.Received, a.buses.Commands, comp("commands.mesh"))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, Task{Name: "commands.mesh", Run: mc.Run})
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tg, err := telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
			PollTimeout:  set.PollTimeout,
		}, a.buses.Commands, a.state, comp("telegram"))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		tasks = append(tasks, Task{Name: "telegram", Run: tg.Run, Restart: true, RestartOpts: restart("telegram", serviceBackoff)})
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{
			Addr:  set.MetricsAddr,
			Path:  set.MetricsPath,
			Pprof: cfg.Metrics.Pprof,
		}, a.reg, comp("metrics"))
		tasks = append(tasks, Task{Name: "metrics.http", Run: srv.Run, Restart: true, RestartOpts: restart("metrics.http", serviceBackoff)})
	}
	return tasks, nil
}

// State is the shared relay switch.
func (a *App) State() *relay.State { return a.state }

// Registry is the app's Prometheus registry.
func (a *App) Registry() *prometheus.Registry { return a.reg }

func (a *App) ShutdownTimeout() time.Duration { return a.set.ShutdownTimeout }

// Done is closed when the app stops, including after a fatal task error.
func (a *App) Done() <-chan struct{} { return a.group.Done() }

// Err returns the error that stopped the app, if any.
func (a *App) Err() error { return a.group.Err() }

func (a *App) Start(ctx context.Context) error {
	a.group.Start(ctx)
	a.log.Info("app started",
		logx.Bool("relay_enabled", a.state.Enabled()),
		logx.String("node_id", mesh.FormatNodeID(a.set.NodeID)),
		logx.String("broker", fmt.Sprintf("%s:%d", a.cfg.Mesh.Host, a.set.Port)),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		start := time.Now()
		err = a.group.Stop(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("stop deadline reached; some tasks did not exit", logx.Int64("active", a.group.Counters().Active))
		}
		for _, c := range a.closers {
			c()
		}
		a.log.Info("stopped", logx.Duration("took", time.Since(start)))
		a.logs.Close()
	})
	return err
}

// reloadLoop applies hot-reloadable sections and reports the rest.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(next.LogConfig())

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changes require restart", logx.String("sections", strings.Join(pending, ",")))
	}
}
