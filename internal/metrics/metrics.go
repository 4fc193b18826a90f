package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes engine counters to Prometheus. All methods are nil-safe
// so collaborators can run without metrics wired.
type Recorder struct {
	fetchAttempts *prometheus.CounterVec
	cacheReads    *prometheus.CounterVec
	quotaUsed     prometheus.Gauge
	pipeline      prometheus.Histogram
}

// New registers a recorder against the default Prometheus registry.
func New() *Recorder {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers a recorder against the given registerer. Tests pass a
// private registry so repeated construction never collides.
func NewWith(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		fetchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardsignal_fetch_attempts_total",
				Help: "Tracker fetch attempts by outcome",
			},
			[]string{"outcome"},
		),
		cacheReads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardsignal_cache_reads_total",
				Help: "Acquisition cache reads by result",
			},
			[]string{"result"},
		),
		quotaUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardsignal_quota_used",
				Help: "Tracker API calls used today",
			},
		),
		pipeline: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardsignal_pipeline_duration_seconds",
				Help:    "Duration of one card signal computation",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordFetch counts a fetch attempt outcome (success, rate-limited, error).
func (r *Recorder) RecordFetch(outcome string) {
	if r == nil {
		return
	}
	r.fetchAttempts.WithLabelValues(outcome).Inc()
}

// RecordCacheRead counts a cache hit, miss, or stale fallback.
func (r *Recorder) RecordCacheRead(result string) {
	if r == nil {
		return
	}
	r.cacheReads.WithLabelValues(result).Inc()
}

// RecordQuotaUsed publishes today's call count.
func (r *Recorder) RecordQuotaUsed(used int) {
	if r == nil {
		return
	}
	r.quotaUsed.Set(float64(used))
}

// RecordPipeline observes one card pipeline duration in seconds.
func (r *Recorder) RecordPipeline(seconds float64) {
	if r == nil {
		return
	}
	r.pipeline.Observe(seconds)
}
