package tasks

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the executor's prometheus collectors.
type Metrics struct {
	submitted *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	running   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil. Collectors already registered under the same names are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagekeeper",
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Tasks submitted, by execution mode.",
		}, []string{"mode"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagekeeper",
			Subsystem: "tasks",
			Name:      "outcomes_total",
			Help:      "Terminal task outcomes, by execution mode and state.",
		}, []string{"mode", "state"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagekeeper",
			Subsystem: "tasks",
			Name:      "running",
			Help:      "Task bodies currently executing.",
		}),
	}
	if reg == nil {
		return m
	}

	m.submitted = register(reg, m.submitted)
	m.outcomes = register(reg, m.outcomes)
	m.running = register(reg, m.running)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
