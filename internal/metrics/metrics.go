// Package metrics declares the Prometheus collectors exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmitAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motiontrack_submit_attempts_total",
		Help: "Analysis submission attempts sent to the backend, by outcome",
	}, []string{"outcome"})

	JobTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motiontrack_job_transitions_total",
		Help: "Job lifecycle transitions, by resulting status",
	}, []string{"status"})

	JobsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "motiontrack_jobs_active",
		Help: "Tracked jobs currently in the active set, by status",
	}, []string{"status"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motiontrack_cache_lookups_total",
		Help: "Resource cache lookups, by namespace and result (memory, persistent, miss)",
	}, []string{"namespace", "result"})

	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motiontrack_cache_evictions_total",
		Help: "Entries removed by periodic cache eviction",
	}, []string{"namespace"})

	BackendOverloaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "motiontrack_backend_overloaded",
		Help: "1 when the last health check classified the backend as overloaded",
	})

	HealthCheckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "motiontrack_health_check_latency_seconds",
		Help:    "Round-trip latency of backend health checks",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	MediaResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motiontrack_media_resolutions_total",
		Help: "Media URL resolutions, by kind and winning candidate",
	}, []string{"kind", "candidate"})

	PollTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motiontrack_poll_ticks_total",
		Help: "Session poller ticks, by outcome",
	}, []string{"outcome"})
)
