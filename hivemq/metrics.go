package hivemq

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors describing container lifecycles.
type Metrics struct {
	starts      *prometheus.CounterVec
	startup     prometheus.Histogram
	transitions *prometheus.CounterVec
	toggles     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. Collectors
// already registered by another container are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemq",
			Subsystem: "testcontainer",
			Name:      "starts_total",
			Help:      "Container start attempts by result.",
		}, []string{"result"}),
		startup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hivemq",
			Subsystem: "testcontainer",
			Name:      "startup_seconds",
			Help:      "Time from start request until the broker accepted MQTT connections.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemq",
			Subsystem: "testcontainer",
			Name:      "state_transitions_total",
			Help:      "Lifecycle state transitions.",
		}, []string{"from", "to"}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemq",
			Subsystem: "testcontainer",
			Name:      "extension_toggles_total",
			Help:      "Runtime extension enable/disable requests by result.",
		}, []string{"action", "result"}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.starts, err = registerOrReuse(reg, m.starts)
	if err != nil {
		return nil, err
	}
	m.startup, err = registerOrReuse(reg, m.startup)
	if err != nil {
		return nil, err
	}
	m.transitions, err = registerOrReuse(reg, m.transitions)
	if err != nil {
		return nil, err
	}
	m.toggles, err = registerOrReuse(reg, m.toggles)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) observeStart(took time.Duration, err error) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		m.startup.Observe(took.Seconds())
	}
}

func (m *Metrics) observeTransition(from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) observeToggle(action string, err error) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(action, resultLabel(err)).Inc()
}
