package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	JobsProcessedTotal   *prometheus.CounterVec
	JobsRejectedTotal    *prometheus.CounterVec
	JobDurationSeconds   *prometheus.HistogramVec
	QueueDepth           prometheus.Gauge
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CacheErrorsTotal     prometheus.Counter
	QuotaRejectedTotal   prometheus.Counter
	UpstreamActionsTotal *prometheus.CounterVec
	BreakerOpenedTotal   prometheus.Counter
	BreakerOpenSeconds   prometheus.Gauge
	BatchRowsTotal       *prometheus.CounterVec
}

// NewMetrics registers the gateway's collectors with reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_jobs_processed_total",
				Help: "Total number of lookup jobs completed, by final status",
			},
			[]string{"status"},
		),
		JobsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_jobs_rejected_total",
				Help: "Total number of lookups rejected before enqueueing",
			},
			[]string{"reason"},
		),
		JobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_job_duration_seconds",
				Help:    "Time from dequeue to completion of a lookup job",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_queue_depth",
				Help: "Current number of jobs waiting in the queue",
			},
		),
		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_cache_hits_total",
				Help: "Total number of lookups answered from the cache",
			},
		),
		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_cache_misses_total",
				Help: "Total number of lookups that missed the cache",
			},
		),
		CacheErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_cache_errors_total",
				Help: "Total number of cache store operations that failed",
			},
		),
		QuotaRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_quota_rejected_total",
				Help: "Total number of requests rejected by the per-user quota",
			},
		),
		UpstreamActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_actions_total",
				Help: "Total number of actions issued to the upstream bot",
			},
			[]string{"action"},
		),
		BreakerOpenedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_breaker_opened_total",
				Help: "Total number of circuit breaker openings",
			},
		),
		BreakerOpenSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_breaker_open_seconds",
				Help: "Seconds remaining until the breaker closes (0 when closed)",
			},
		),
		BatchRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_batch_rows_total",
				Help: "Total number of spreadsheet rows handled, by outcome",
			},
			[]string{"outcome"},
		),
	}
}
