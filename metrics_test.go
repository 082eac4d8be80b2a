package voltacq

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.BatchDistributed(100)
	m.BatchDistributed(100)
	m.EmptyDrain()
	m.ConsumerError("display")
	m.SetRunState(StopRequested)

	assert.Equal(t, 200.0, testutil.ToFloat64(m.samples))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emptyDrains))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runState))

	expected := `
# HELP voltacq_consumer_errors_total Batches a consumer failed to handle.
# TYPE voltacq_consumer_errors_total counter
voltacq_consumer_errors_total{consumer="display"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "voltacq_consumer_errors_total"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.BatchDistributed(1)
	m.EmptyDrain()
	m.ConsumerError("x")
	m.SetRunState(Running)
}
