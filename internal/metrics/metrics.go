package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	webhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildwarden",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Inbound webhook deliveries grouped by ingestion outcome.",
		},
		[]string{"event", "status"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildwarden",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests grouped by route and status code.",
		},
		[]string{"route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildwarden",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency grouped by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildwarden",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal state, grouped by state.",
		},
		[]string{"state"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildwarden",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of executed jobs grouped by final state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"state"},
	)
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildwarden",
			Subsystem: "jobs",
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps grouped by step name and outcome.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"step", "outcome"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildwarden",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Jobs admitted to the scheduler but not yet started.",
		},
	)
	runningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildwarden",
			Subsystem: "scheduler",
			Name:      "running_jobs",
			Help:      "Jobs currently executing.",
		},
	)
	rejectedJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildwarden",
			Subsystem: "scheduler",
			Name:      "rejected_total",
			Help:      "Jobs rejected because the pending queue was full.",
		},
	)
	interruptedJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildwarden",
			Subsystem: "recovery",
			Name:      "interrupted_total",
			Help:      "Jobs marked INTERRUPTED at startup.",
		},
	)
	infrastructureErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildwarden",
			Name:      "infrastructure_errors_total",
			Help:      "Failures of the build host itself, grouped by kind.",
		},
		[]string{"kind"},
	)
)

var defaultDeliveryStatuses = []string{"accepted", "unauthenticated", "duplicate", "overloaded", "ignored", "invalid"}

func init() {
	Register()
}

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			webhookDeliveriesTotal,
			httpRequestsTotal,
			httpRequestDuration,
			jobsFinishedTotal,
			jobDuration,
			stepDuration,
			queueDepth,
			runningJobs,
			rejectedJobsTotal,
			interruptedJobsTotal,
			infrastructureErrorsTotal,
		)
		for _, s := range defaultDeliveryStatuses {
			webhookDeliveriesTotal.WithLabelValues("push", s).Add(0)
		}
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveDelivery(event, status string) {
	if event == "" {
		event = "unknown"
	}
	webhookDeliveriesTotal.WithLabelValues(event, status).Inc()
}

func ObserveHTTPRequest(route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func ObserveJobFinished(state string, duration time.Duration) {
	jobsFinishedTotal.WithLabelValues(state).Inc()
	if duration > 0 {
		jobDuration.WithLabelValues(state).Observe(duration.Seconds())
	}
}

func ObserveStep(step, outcome string, duration time.Duration) {
	stepDuration.WithLabelValues(step, outcome).Observe(duration.Seconds())
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func SetRunningJobs(n int) {
	runningJobs.Set(float64(n))
}

func IncRejected() {
	rejectedJobsTotal.Inc()
}

func AddInterrupted(n int) {
	interruptedJobsTotal.Add(float64(n))
}

func IncInfrastructureError(kind string) {
	infrastructureErrorsTotal.WithLabelValues(kind).Inc()
}
