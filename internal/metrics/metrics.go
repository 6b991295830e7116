package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "potamesh"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	ScrapeCycles   prometheus.Counter
	ScrapeErrors   prometheus.Counter
	SpotsFetched   prometheus.Counter
	SpotsMalformed prometheus.Counter
	SpotsNew       prometheus.Counter
	SpotsPruned    prometheus.Counter
	RegistrySize   prometheus.Gauge

	Published     prometheus.Counter
	PublishErrors prometheus.Counter
	Suppressed    prometheus.Counter
	Announcements *prometheus.CounterVec // result

	FramesReceived *prometheus.CounterVec // type
	FramesDropped  prometheus.Counter

	Commands *prometheus.CounterVec // source, verb

	TaskRestarts *prometheus.CounterVec // task
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScrapeCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scrape", Name: "cycles_total",
			Help: "Scrape cycles started.",
		}),
		ScrapeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scrape", Name: "errors_total",
			Help: "Scrape cycles that failed to fetch the spot list.",
		}),
		SpotsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scrape", Name: "spots_fetched_total",
			Help: "Raw spot records fetched from the upstream API.",
		}),
		SpotsMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scrape", Name: "spots_malformed_total",
			Help: "Spot records skipped because they could not be parsed.",
		}),
		SpotsNew: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scrape", Name: "spots_new_total",
			Help: "Spots whose dedup key had not been seen before.",
		}),
		SpotsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scrape", Name: "spots_pruned_total",
			Help: "Registry entries removed by the prune schedule.",
		}),
		RegistrySize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scrape", Name: "registry_size",
			Help: "Dedup keys currently held in memory.",
		}),
		Published: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mesh", Name: "published_total",
			Help: "Spot messages published to the broker.",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mesh", Name: "publish_errors_total",
			Help: "Spot messages that failed to encode or publish.",
		}),
		Suppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mesh", Name: "suppressed_total",
			Help: "New spots not relayed because relay was disabled.",
		}),
		Announcements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mesh", Name: "announcements_total",
			Help: "Node announcements attempted, by result.",
		}, []string{"result"}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mesh", Name: "frames_received_total",
			Help: "Inbound frames decoded, by message type.",
		}, []string{"type"}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mesh", Name: "frames_dropped_total",
			Help: "Inbound frames that could not be decoded.",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "commands_total",
			Help: "Operator commands handled, by source and verb.",
		}, []string{"source", "verb"}),
		TaskRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "task_restarts_total",
			Help: "Restarts of supervised tasks after an error, by task.",
		}, []string{"task"}),
	}
}

// BusDropped registers a counter mirroring an event bus drop count.
func BusDropped(reg prometheus.Registerer, bus string, dropped func() uint64) prometheus.CounterFunc {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "events", Name: "dropped_total",
		Help:        "Events not delivered because a subscriber buffer was full.",
		ConstLabels: prometheus.Labels{"bus": bus},
	}, func() float64 { return float64(dropped()) })
	if reg != nil {
		reg.MustRegister(c)
	}
	return c
}
