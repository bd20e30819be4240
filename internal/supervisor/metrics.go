package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Launch and stop outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeConfigError = "config_error"
	OutcomeFailed      = "failed"
)

// Metrics holds the supervisor's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	launches *prometheus.CounterVec
	stops    *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	crashes  prometheus.Counter
	state    *prometheus.GaugeVec
}

// NewMetrics registers the supervisor collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		launches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lspvisor",
			Subsystem: "supervisor",
			Name:      "launches_total",
			Help:      "Accepted start attempts by outcome",
		}, []string{"outcome"}),
		stops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lspvisor",
			Subsystem: "supervisor",
			Name:      "stops_total",
			Help:      "Accepted stops by outcome",
		}, []string{"outcome"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lspvisor",
			Subsystem: "supervisor",
			Name:      "dropped_total",
			Help:      "Calls ignored because the same operation was in flight",
		}, []string{"op"}),
		crashes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lspvisor",
			Subsystem: "supervisor",
			Name:      "crashes_total",
			Help:      "Running servers that exited without being stopped",
		}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lspvisor",
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "1 for the current supervisor state, 0 otherwise",
		}, []string{"state"}),
	}
}

func (m *Metrics) launch(outcome string) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) stop(outcome string) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(outcome).Inc()
}

func (m *Metrics) drop(op string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(op).Inc()
}

func (m *Metrics) crash() {
	if m == nil {
		return
	}
	m.crashes.Inc()
}

func (m *Metrics) setState(current State) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}
