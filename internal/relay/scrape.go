package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"potamesh/internal/eventbus"
	"potamesh/internal/metrics"
	"potamesh/internal/spot"
	logx "potamesh/pkg/logx"
)

const DefaultScrapeInterval = 30 * time.Second

// Source returns the raw records of the current spot list, in upstream order.
type Source interface {
	Fetch(ctx context.Context) ([]json.RawMessage, error)
}

type ScraperConfig struct {
	Interval time.Duration
	// PruneSchedule is a cron expression ("@hourly", "0 */6 * * *"). Empty disables pruning.
	PruneSchedule string
	// MaxAge is how long a key may go unseen before pruning drops it.
	MaxAge time.Duration
}

// Scraper polls the spot source, deduplicates through its Registry and
// announces newly seen spots on the spot bus.
//
// The Registry is owned by the Run goroutine; nothing else writes it.
type Scraper struct {
	cfg ScraperConfig
	src Source
	reg *spot.Registry
	bus *eventbus.Bus[NewSpots]
	log logx.Logger
	m   *metrics.Metrics

	prune     cron.Schedule
	nextPrune time.Time
	now       func() time.Time
}

func NewScraper(cfg ScraperConfig, src Source, bus *eventbus.Bus[NewSpots], log logx.Logger, m *metrics.Metrics) (*Scraper, error) {
	if src == nil {
		return nil, errors.New("scraper: source is nil")
	}
	if bus == nil {
		return nil, errors.New("scraper: spot bus is nil")
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultScrapeInterval
	}
	s := &Scraper{
		cfg: cfg,
		src: src,
		reg: spot.NewRegistry(),
		bus: bus,
		log: log,
		m:   m,
		now: time.Now,
	}
	if expr := strings.TrimSpace(cfg.PruneSchedule); expr != "" {
		if cfg.MaxAge <= 0 {
			return nil, errors.New("scraper: prune schedule requires max age")
		}
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("scraper: prune schedule %q: %w", expr, err)
		}
		s.prune = sched
		s.nextPrune = sched.Next(s.now())
	}
	return s, nil
}

// Registry exposes the dedup cache. Only safe to read while Run is not executing.
func (s *Scraper) Registry() *spot.Registry { return s.reg }

// Run scrapes until ctx is canceled. Failed cycles are logged; the fixed
// interval always elapses before the next cycle.
func (s *Scraper) Run(ctx context.Context) error {
	s.log.Info("scraper started", logx.Duration("interval", s.cfg.Interval))
	for {
		if _, err := s.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.m.ScrapeErrors.Inc()
			s.log.Error("scrape cycle failed", logx.Err(err))
		}

		t := time.NewTimer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Cycle performs one fetch, diff and notify pass and returns the newly seen spots.
func (s *Scraper) Cycle(ctx context.Context) ([]spot.Spot, error) {
	s.m.ScrapeCycles.Inc()
	s.log.Debug("fetching spot reports")

	raw, err := s.src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	s.m.SpotsFetched.Add(float64(len(raw)))

	batch := make([]spot.Spot, 0, len(raw))
	for i, r := range raw {
		sp, err := spot.Decode(r)
		if err != nil {
			s.m.SpotsMalformed.Inc()
			s.log.Warn("skipping malformed spot record", logx.Int("index", i), logx.Err(err))
			continue
		}
		batch = append(batch, sp)
	}

	now := s.now()
	added := s.reg.Diff(batch, now)
	s.m.SpotsNew.Add(float64(len(added)))
	s.log.Info("retrieved spot reports",
		logx.Int("fetched", len(raw)),
		logx.Int("parsed", len(batch)),
		logx.Int("new", len(added)),
	)
	for _, sp := range added {
		s.log.Debug("new spot", logx.String("key", sp.Key()))
	}

	if len(added) > 0 {
		s.bus.Publish(NewSpots{Spots: added, At: now})
	}

	if s.prune != nil && !now.Before(s.nextPrune) {
		if n := s.reg.Prune(now.Add(-s.cfg.MaxAge)); n > 0 {
			s.m.SpotsPruned.Add(float64(n))
			s.log.Info("pruned stale spots", logx.Int("removed", n), logx.Duration("max_age", s.cfg.MaxAge))
		}
		s.nextPrune = s.prune.Next(now)
	}
	s.m.RegistrySize.Set(float64(s.reg.Len()))
	return added, nil
}
