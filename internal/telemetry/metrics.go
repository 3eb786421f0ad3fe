package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_submitted_total", Help: "Jobs accepted by the generate endpoint"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_succeeded_total", Help: "Jobs that produced an artifact"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_failed_total", Help: "Jobs that ended in the failed state"})
	JobsRecovered    = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_orphaned_total", Help: "Running jobs failed by the startup sweep"})
	JobsSwept        = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_swept_total", Help: "Finished jobs removed by the retention sweep"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "video_jobs_queued", Help: "Jobs waiting for a worker"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "video_jobs_running", Help: "Jobs currently executing"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "video_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage", "result"})

	ProviderFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "video_provider_fallbacks_total",
		Help: "Providers skipped while walking a fallback chain",
	}, []string{"capability", "provider", "reason"})

	ArtifactsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "video_artifacts_published_total",
		Help: "Artifact mirror uploads by result",
	}, []string{"result"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsSucceeded,
			JobsFailed,
			JobsRecovered,
			JobsSwept,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
			StageDuration,
			ProviderFallbacks,
			ArtifactsPublished,
		)
	})
	return promhttp.Handler()
}

// Fallback returns a hook that counts skipped providers for capability.
func Fallback(capability string) func(provider, reason string, err error) {
	return func(provider, reason string, _ error) {
		ProviderFallbacks.WithLabelValues(capability, provider, reason).Inc()
	}
}
