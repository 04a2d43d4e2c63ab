package batch

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := newTestRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeOutcomes(kindObjects, 1, 1)
		m.observeSend(kindObjects, nil)
		m.observeRetries(kindObjects, 2)
		m.observeFlush(TriggerManual, 0)
		m.setBuffered(kindObjects, 3)
	})
}

func TestMetrics_Buffered(t *testing.T) {
	m, err := NewMetrics(newTestRegistry())
	require.NoError(t, err)

	m.setBuffered(kindReferences, 4)
	assert.Equal(t, 4.0, counterValue(t, m.buffered.WithLabelValues(kindReferences)))
}
