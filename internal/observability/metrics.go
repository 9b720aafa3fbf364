package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TasksCreated    *prometheus.CounterVec
	TasksFinished   *prometheus.CounterVec
	ActiveStreams   prometheus.Gauge
	PublishFailures prometheus.Counter
	GenerateLatency prometheus.Histogram
	RegistrySize    prometheus.GaugeFunc
}

func NewMetrics(namespace string, registrySize func() float64) *Metrics {
	return &Metrics{
		TasksCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Tasks created by kind.",
		}, []string{"kind"}),
		TasksFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks reaching a terminal state, by kind and state.",
		}, []string{"kind", "state"}),
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Open progress-stream subscriptions (SSE and WebSocket).",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Progress events dropped because the broker publish failed.",
		}),
		GenerateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Latency of combined-generation LLM calls in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		RegistrySize: promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_tasks",
			Help:      "Tasks currently held in the registry.",
		}, registrySize),
	}
}

func (m *Metrics) ObserveGenerateLatency(d time.Duration) {
	m.GenerateLatency.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
