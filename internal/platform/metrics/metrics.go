package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds the portal's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	CacheSweeps        prometheus.Counter

	GatewayDuration *prometheus.HistogramVec
	GatewayErrors   *prometheus.CounterVec

	ActionsDispatched *prometheus.CounterVec
	RealtimeQueued    prometheus.Gauge
	RealtimeOverflow  prometheus.Counter
	FetchesCancelled  prometheus.Counter

	CascadePartialFailures prometheus.Counter
	SubmissionDuration     prometheus.Histogram
	DraftDriftCorrections  prometheus.Counter
}

// New creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests;
// a nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_cache_hits_total",
			Help: "Entity cache hits by operation",
		}, []string{"op"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_cache_misses_total",
			Help: "Entity cache misses by operation",
		}, []string{"op"}),
		CacheInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_cache_invalidations_total",
			Help: "Entity cache keys purged, by reason",
		}, []string{"reason"}),
		CacheSweeps: f.NewCounter(prometheus.CounterOpts{
			Name: "civreg_cache_sweeps_total",
			Help: "Opportunistic expired-entry sweeps after crossing the soft size limit",
		}),
		GatewayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civreg_gateway_duration_seconds",
			Help:    "Duration of remote data gateway calls",
			Buckets: latencyBuckets,
		}, []string{"op", "table"}),
		GatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_gateway_errors_total",
			Help: "Failed remote data gateway calls",
		}, []string{"op", "table"}),
		ActionsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_store_actions_total",
			Help: "Actions applied by the request store reducer",
		}, []string{"action"}),
		RealtimeQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "civreg_realtime_queue_depth",
			Help: "Realtime changes waiting to be applied",
		}),
		RealtimeOverflow: f.NewCounter(prometheus.CounterOpts{
			Name: "civreg_realtime_overflow_total",
			Help: "Realtime changes rejected by a full mailbox (a full refetch follows)",
		}),
		FetchesCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "civreg_fetches_cancelled_total",
			Help: "Listing fetches superseded by a newer fetch",
		}),
		CascadePartialFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "civreg_cascade_partial_failures_total",
			Help: "Sub-deletes that failed during cascading or best-effort deletion",
		}),
		SubmissionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civreg_owner_submission_duration_seconds",
			Help:    "Duration of owner aggregate submissions",
			Buckets: latencyBuckets,
		}),
		DraftDriftCorrections: f.NewCounter(prometheus.CounterOpts{
			Name: "civreg_draft_drift_corrections_total",
			Help: "Times the draft poll found storage and memory disagreeing",
		}),
	}
}

func (m *Metrics) CacheHit(op string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(op).Inc()
}

func (m *Metrics) CacheMiss(op string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(op).Inc()
}

func (m *Metrics) CacheInvalidated(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheInvalidations.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) CacheSwept() {
	if m == nil {
		return
	}
	m.CacheSweeps.Inc()
}

// ObserveGateway records a gateway call started at start.
func (m *Metrics) ObserveGateway(op, table string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.GatewayDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
	if err != nil {
		m.GatewayErrors.WithLabelValues(op, table).Inc()
	}
}

func (m *Metrics) ActionApplied(action string) {
	if m == nil {
		return
	}
	m.ActionsDispatched.WithLabelValues(action).Inc()
}

func (m *Metrics) SetRealtimeQueued(n int) {
	if m == nil {
		return
	}
	m.RealtimeQueued.Set(float64(n))
}

func (m *Metrics) IncRealtimeOverflow() {
	if m == nil {
		return
	}
	m.RealtimeOverflow.Inc()
}

func (m *Metrics) IncFetchCancelled() {
	if m == nil {
		return
	}
	m.FetchesCancelled.Inc()
}

func (m *Metrics) AddCascadePartialFailures(n int) {
	if m == nil || n == 0 {
		return
	}
	m.CascadePartialFailures.Add(float64(n))
}

// ObserveSubmission records the duration of an owner submission.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSubmission(start time.Time) {
	if m == nil {
		return
	}
	m.SubmissionDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncDraftDrift() {
	if m == nil {
		return
	}
	m.DraftDriftCorrections.Inc()
}
