package metrics

import (
	"net/http"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics implements ports.ConversionObserver.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight *prometheus.GaugeVec
	queueLag     *prometheus.HistogramVec
}

// NewWorkerMetrics registers into its own registry. Pass a non-nil reg to
// share one with the HTTP metrics in a single-process deployment.
func NewWorkerMetrics(service string, reg *prometheus.Registry) *WorkerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tomd",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Finished conversion jobs by engine and final status.",
		},
		[]string{"service", "engine", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tomd",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Conversion duration in seconds by engine and final status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "engine", "status"},
	)
	jobsInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tomd",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Conversions currently running by engine.",
		},
		[]string{"service", "engine"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tomd",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "engine"},
	)

	reg.MustRegister(jobsTotal, jobDuration, jobsInFlight, queueLag)

	return &WorkerMetrics{
		registry:     reg,
		service:      service,
		jobsTotal:    jobsTotal,
		jobDuration:  jobDuration,
		jobsInFlight: jobsInFlight,
		queueLag:     queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TrackQueueDepth exposes depth as a gauge sampled at scrape time.
func (m *WorkerMetrics) TrackQueueDepth(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   "tomd",
			Subsystem:   "worker",
			Name:        "queue_depth",
			Help:        "Job ids waiting for a free worker.",
			ConstLabels: prometheus.Labels{"service": m.service},
		},
		func() float64 { return float64(depth()) },
	))
}

func (m *WorkerMetrics) JobStarted(engine domain.ConverterID, queueLag time.Duration) {
	m.jobsInFlight.WithLabelValues(m.service, string(engine)).Inc()
	if queueLag >= 0 {
		m.queueLag.WithLabelValues(m.service, string(engine)).Observe(queueLag.Seconds())
	}
}

func (m *WorkerMetrics) JobFinished(engine domain.ConverterID, status domain.JobStatus, duration time.Duration) {
	m.jobsInFlight.WithLabelValues(m.service, string(engine)).Dec()
	m.jobsTotal.WithLabelValues(m.service, string(engine), string(status)).Inc()
	m.jobDuration.WithLabelValues(m.service, string(engine), string(status)).Observe(duration.Seconds())
}
