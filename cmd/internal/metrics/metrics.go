// Package metrics owns the Prometheus collectors of the realtime event layer.
//
// Collectors are registered on an explicit Registerer so tests can use a private
// registry. All recording methods are nil-safe: components built without metrics
// simply skip observation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carads"

// Metrics groups the collectors recorded by the realtime, ingestion and retention packages.
type Metrics struct {
	onlineConnections   prometheus.Gauge
	presenceCorrections prometheus.Counter
	eventsPushed        *prometheus.CounterVec
	slowConsumers       prometheus.Counter

	ingestOutcomes *prometheus.CounterVec

	retentionEvicted prometheus.Counter
	purgeRuns        *prometheus.CounterVec
	purgeDeleted     prometheus.Counter

	viewsRecorded prometheus.Counter
}

// New registers all collectors on reg. A nil reg uses a fresh private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		onlineConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_online_connections",
			Help:      "Number of open realtime connections.",
		}),
		presenceCorrections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_presence_corrections_total",
			Help:      "Disconnects that would have driven the online count below zero.",
		}),
		eventsPushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_pushed_total",
			Help:      "Envelopes enqueued to connections, by event name.",
		}, []string{"event"}),
		slowConsumers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_slow_consumers_total",
			Help:      "Connections closed because their send queue was full.",
		}),
		ingestOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_ingest_total",
			Help:      "Webhook updates by ingestion outcome.",
		}, []string{"outcome"}),
		retentionEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_evicted_total",
			Help:      "Records evicted by the per-channel retention cap.",
		}),
		purgeRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_purge_runs_total",
			Help:      "Scheduled purge runs by result.",
		}, []string{"result"}),
		purgeDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_purge_deleted_total",
			Help:      "Records deleted by the scheduled purge.",
		}),
		viewsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_views_recorded_total",
			Help:      "Listing view events recorded.",
		}),
	}
}

func (m *Metrics) SetOnline(n int64) {
	if m == nil {
		return
	}
	m.onlineConnections.Set(float64(n))
}

func (m *Metrics) PresenceCorrected() {
	if m == nil {
		return
	}
	m.presenceCorrections.Inc()
}

func (m *Metrics) EventPushed(event string, recipients int) {
	if m == nil || recipients <= 0 {
		return
	}
	m.eventsPushed.WithLabelValues(event).Add(float64(recipients))
}

func (m *Metrics) SlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}

// IngestOutcome records one webhook update. outcome is "created", "duplicate" or "rejected".
func (m *Metrics) IngestOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ingestOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retentionEvicted.Add(float64(n))
}

// PurgeRun records a purge cycle. A nil err counts as "ok" and adds deleted to the total.
func (m *Metrics) PurgeRun(deleted int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.purgeRuns.WithLabelValues("error").Inc()
		return
	}
	m.purgeRuns.WithLabelValues("ok").Inc()
	if deleted > 0 {
		m.purgeDeleted.Add(float64(deleted))
	}
}

func (m *Metrics) ViewRecorded() {
	if m == nil {
		return
	}
	m.viewsRecorded.Inc()
}
