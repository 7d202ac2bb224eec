package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stefanos11892/GVD-Engine/internal/model"
)

const namespace = "gvd"

// Metrics exports job, verdict and LLM counters to Prometheus. It satisfies
// the jobs, audit and llm observer interfaces.
type Metrics struct {
	jobsSubmitted prometheus.Counter
	jobsInFlight  prometheus.Gauge
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec

	verdicts *prometheus.CounterVec

	llmCalls   *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
	llmTokens  *prometheus.CounterVec
	llmCostUSD *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Audit jobs accepted by the job manager",
		}),
		jobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Audit jobs currently being processed",
		}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Audit jobs that reached a terminal status",
		}, []string{"status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from job start to terminal status",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"status"}),
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "metric_outcomes_total",
			Help:      "Per-metric verification outcomes",
		}, []string{"outcome"}),
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM calls by provider, role and outcome",
		}, []string{"provider", "role", "outcome"}),
		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction",
		}, []string{"provider", "direction"}),
		llmCostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Estimated LLM spend in USD",
		}, []string{"provider"}),
	}
}

func (m *Metrics) JobSubmitted() { m.jobsSubmitted.Inc() }

func (m *Metrics) JobStarted() { m.jobsInFlight.Inc() }

// JobFinished records a terminal status. Jobs that never started (cancelled
// while queued, or failed at shutdown) report a zero elapsed and do not
// touch the in-flight gauge.
func (m *Metrics) JobFinished(status model.JobStatus, elapsed time.Duration) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
	if elapsed > 0 {
		m.jobsInFlight.Dec()
		m.jobDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveVerdict(outcome string) {
	m.verdicts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLLMCall(provider, role, outcome string, elapsed time.Duration, usage model.TokenUsage) {
	m.llmCalls.WithLabelValues(provider, role, outcome).Inc()
	m.llmLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if usage.InputTokens > 0 {
		m.llmTokens.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.llmTokens.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
	}
	if usage.Cost > 0 {
		m.llmCostUSD.WithLabelValues(provider).Add(usage.Cost)
	}
}
