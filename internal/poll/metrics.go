package poll

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSuccess = "success"
	outcomeEmpty   = "empty"
	outcomeFailure = "failure"
)

// Metrics counts poll activity. A nil *Metrics records nothing.
type Metrics struct {
	fetches   *prometheus.CounterVec
	exhausted prometheus.Counter
	active    prometheus.Gauge
}

// NewMetrics registers poll collectors with reg, reusing collectors that are
// already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "poll",
			Name:      "fetches_total",
			Help:      "Deployment status fetches by outcome",
		}, []string{"outcome"}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "poll",
			Name:      "exhausted_total",
			Help:      "Polling sessions that ran out of consecutive failures",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deploywatch",
			Subsystem: "poll",
			Name:      "active_sessions",
			Help:      "Polling sessions currently running",
		}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.fetches); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.fetches = existing
			}
		}
	}
	if err := reg.Register(m.exhausted); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				m.exhausted = existing
			}
		}
	}
	if err := reg.Register(m.active); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				m.active = existing
			}
		}
	}
	return m
}

func (m *Metrics) observeFetch(outcome string) {
	if m == nil {
		return
	}
	m.fetches.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (m *Metrics) observeExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.active.Dec()
}
