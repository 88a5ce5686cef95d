package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docchat"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ingestDuration  *prometheus.HistogramVec
	chunksIndexed   prometheus.Counter
	askDuration     *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec
	cascadeFailures *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ingestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of document ingestion by outcome.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		chunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Number of chunk vectors written to the vector store.",
		}),
		askDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "Duration of question answering by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		providerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Failed calls to external providers.",
		}, []string{"provider"}),
		cascadeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_step_failures_total",
			Help:      "Failed steps of instance deletion.",
		}, []string{"step"}),
	}
}

func (m *Metrics) ObserveIngest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ChunksIndexed(n int) {
	if m == nil {
		return
	}
	m.chunksIndexed.Add(float64(n))
}

func (m *Metrics) ObserveAsk(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.askDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ProviderError(provider string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider).Inc()
}

func (m *Metrics) CascadeFailure(step string) {
	if m == nil {
		return
	}
	m.cascadeFailures.WithLabelValues(step).Inc()
}
