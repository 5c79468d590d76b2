package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the sync layer
type Metrics struct {
	// Ledger metrics
	PendingActions prometheus.Gauge
	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec

	// Realtime metrics
	PushEventsTotal     *prometheus.CounterVec
	InvalidationsTotal  *prometheus.CounterVec
	ActiveSubscriptions prometheus.Gauge

	// Upload metrics
	UploadsTotal *prometheus.CounterVec

	// Resource tracker metrics
	TrackedResources prometheus.Gauge
	ReleasesTotal    *prometheus.CounterVec
	SweepsTotal      *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PendingActions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clientsync_pending_actions",
			Help: "Number of optimistic actions awaiting server confirmation",
		}),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientsync_actions_total",
				Help: "Optimistic actions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clientsync_action_duration_seconds",
				Help:    "Time from optimistic render to reconciliation",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		PushEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientsync_push_events_total",
				Help: "Change notifications received from the push channel",
			},
			[]string{"resource"},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientsync_invalidations_total",
				Help: "Debounced invalidations by outcome (fired or dropped)",
			},
			[]string{"resource", "outcome"},
		),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clientsync_active_subscriptions",
			Help: "Number of live invalidation subscriptions",
		}),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientsync_uploads_total",
				Help: "Upload attempts by outcome",
			},
			[]string{"outcome"},
		),
		TrackedResources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clientsync_tracked_resources",
			Help: "Ephemeral resources currently registered for release",
		}),
		ReleasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientsync_resource_releases_total",
				Help: "Resource releases by outcome",
			},
			[]string{"outcome"},
		),
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientsync_resource_sweeps_total",
				Help: "Global resource sweeps by trigger",
			},
			[]string{"trigger"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.PendingActions,
			m.ActionsTotal,
			m.ActionDuration,
			m.PushEventsTotal,
			m.InvalidationsTotal,
			m.ActiveSubscriptions,
			m.UploadsTotal,
			m.TrackedResources,
			m.ReleasesTotal,
			m.SweepsTotal,
		)
	}
	return m
}

// Default returns the process-wide collectors registered on the default registry
func Default() *Metrics {
	once.Do(func() {
		instance = New(prometheus.DefaultRegisterer)
	})
	return instance
}
