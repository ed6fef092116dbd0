// Package metrics exposes prometheus collectors for the event store and its
// subscriptions. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	appended       prometheus.Counter
	conflicts      prometheus.Counter
	read           *prometheus.CounterVec
	expansions     prometheus.Counter
	advances       *prometheus.CounterVec
	appendDuration prometheus.Histogram
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventstore",
			Name:      "appended_events_total",
			Help:      "events appended to streams",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventstore",
			Name:      "append_conflicts_total",
			Help:      "appends rejected on expected version",
		}),
		read: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventstore",
			Name:      "read_events_total",
			Help:      "stored records read",
		}, []string{"direction"}),
		expansions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventstore",
			Name:      "upcast_expansions_total",
			Help:      "records upcast into anything but exactly one event",
		}),
		advances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "advances_total",
			Help:      "subscription cursor moves",
		}, []string{"subscription"}),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eventstore",
			Name:      "append_duration_seconds",
			Help:      "time spent in backend appends",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.appended, m.conflicts, m.read, m.expansions, m.advances, m.appendDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Appended(n int, took time.Duration) {
	if m == nil {
		return
	}
	m.appended.Add(float64(n))
	m.appendDuration.Observe(took.Seconds())
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) Read(direction string) {
	if m == nil {
		return
	}
	m.read.WithLabelValues(direction).Inc()
}

func (m *Metrics) Expanded() {
	if m == nil {
		return
	}
	m.expansions.Inc()
}

func (m *Metrics) Advanced(subscription string) {
	if m == nil {
		return
	}
	m.advances.WithLabelValues(subscription).Inc()
}
