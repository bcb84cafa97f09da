package clients

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BreakerMetrics tracks circuit breaker state per breaker name.
type BreakerMetrics struct {
	State       *prometheus.GaugeVec   // 0=closed, 1=half-open, 2=open
	Transitions *prometheus.CounterVec // labels: name, from, to
}

// NewBreakerMetrics creates breaker collectors and registers them with reg
// when it is non-nil.
func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	m := &BreakerMetrics{
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_state_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.State, m.Transitions)
	}
	return m
}

// Callback returns a function suitable for CircuitBreakerConfig.OnStateChange.
func (m *BreakerMetrics) Callback() func(string, CircuitBreakerState, CircuitBreakerState) {
	return func(name string, from, to CircuitBreakerState) {
		m.Transitions.WithLabelValues(name, from.String(), to.String()).Inc()
		m.State.WithLabelValues(name).Set(float64(to))
	}
}
