package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ChunksIndexed(3)
	m.ChunksIndexed(2)
	m.ProviderError("embedding")
	m.CascadeFailure("vector_collection")
	m.CascadeFailure("vector_collection")
	m.ObserveIngest("ok", time.Second)
	m.ObserveAsk("not_found", time.Millisecond)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.chunksIndexed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.providerErrors.WithLabelValues("embedding")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.cascadeFailures.WithLabelValues("vector_collection")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ingestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.askDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChunksIndexed(1)
		m.ProviderError("generation")
		m.CascadeFailure("messages")
		m.ObserveIngest("ok", time.Second)
		m.ObserveAsk("ok", time.Second)
	})
}
