package voltacq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments of the acquisition loop. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	samples        prometheus.Counter
	batches        prometheus.Counter
	emptyDrains    prometheus.Counter
	consumerErrors *prometheus.CounterVec
	runState       prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voltacq_samples_acquired_total",
			Help: "Samples per channel drained and distributed.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voltacq_batches_total",
			Help: "Batches drained and distributed.",
		}),
		emptyDrains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voltacq_empty_drains_total",
			Help: "Polling ticks that found fewer samples than one batch.",
		}),
		consumerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voltacq_consumer_errors_total",
			Help: "Batches a consumer failed to handle.",
		}, []string{"consumer"}),
		runState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voltacq_run_state",
			Help: "Acquisition run state: 0 idle, 1 running, 2 stop requested.",
		}),
	}
	reg.MustRegister(m.samples, m.batches, m.emptyDrains, m.consumerErrors, m.runState)
	return m
}

// BatchDistributed records one distributed batch of n samples per channel.
func (m *Metrics) BatchDistributed(n int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.samples.Add(float64(n))
}

// EmptyDrain records a tick with no batch ready.
func (m *Metrics) EmptyDrain() {
	if m == nil {
		return
	}
	m.emptyDrains.Inc()
}

// ConsumerError records one failed batch in the named consumer.
func (m *Metrics) ConsumerError(consumer string) {
	if m == nil {
		return
	}
	m.consumerErrors.WithLabelValues(consumer).Inc()
}

// SetRunState publishes the current run state.
func (m *Metrics) SetRunState(s RunState) {
	if m == nil {
		return
	}
	m.runState.Set(float64(s))
}
