package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

// ClassificationMetrics implements ports.ClassificationRecorder.
type ClassificationMetrics struct {
	service string

	classificationTotal    *prometheus.CounterVec
	classificationDuration *prometheus.HistogramVec
	shortlistSize          *prometheus.HistogramVec
	providerCallsTotal     *prometheus.CounterVec
	providerCallDuration   *prometheus.HistogramVec
	parseStrategyTotal     *prometheus.CounterVec
}

func newClassificationMetrics(service string, registerer prometheus.Registerer) *ClassificationMetrics {
	m := &ClassificationMetrics{
		service: service,
		classificationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classification_total",
				Help:      "Completed classifications by marketplace, status and provider.",
			},
			[]string{"service", "marketplace", "status", "provider"},
		),
		classificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "classification_duration_seconds",
				Help:      "End-to-end classification duration in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"service", "marketplace", "status"},
		),
		shortlistSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "shortlist_size",
				Help:      "Number of candidate leaves kept by the heuristic shortlist.",
				Buckets:   []float64{0, 1, 2, 5, 10, 15, 25, 50},
			},
			[]string{"service", "marketplace"},
		),
		providerCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Language-model calls by provider and outcome.",
			},
			[]string{"service", "provider", "outcome"},
		),
		providerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Language-model call duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "provider"},
		),
		parseStrategyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_strategy_total",
				Help:      "Provider answers by the parsing strategy that read them.",
			},
			[]string{"service", "strategy"},
		),
	}
	registerer.MustRegister(
		m.classificationTotal,
		m.classificationDuration,
		m.shortlistSize,
		m.providerCallsTotal,
		m.providerCallDuration,
		m.parseStrategyTotal,
	)
	return m
}

func (m *ClassificationMetrics) ObserveClassification(marketplace, provider string, status domain.ClassificationStatus, duration time.Duration) {
	if provider == "" {
		provider = "none"
	}
	m.classificationTotal.WithLabelValues(m.service, marketplace, string(status), provider).Inc()
	m.classificationDuration.WithLabelValues(m.service, marketplace, string(status)).Observe(duration.Seconds())
}

func (m *ClassificationMetrics) ObserveShortlist(marketplace string, size int) {
	m.shortlistSize.WithLabelValues(m.service, marketplace).Observe(float64(size))
}

func (m *ClassificationMetrics) ObserveProviderCall(provider, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.providerCallsTotal.WithLabelValues(m.service, provider, outcome).Inc()
	m.providerCallDuration.WithLabelValues(m.service, provider).Observe(duration.Seconds())
}

func (m *ClassificationMetrics) ObserveParseStrategy(strategy string) {
	if strategy == "" {
		strategy = "none"
	}
	m.parseStrategyTotal.WithLabelValues(m.service, strategy).Inc()
}
