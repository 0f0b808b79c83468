package sagastack

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the counters a stack reports to. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	entriesPushed *prometheus.CounterVec
	undos         *prometheus.CounterVec
	compensations *prometheus.CounterVec
}

// NewMetrics creates the stack counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		entriesPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compensation",
			Name:      "entries_pushed_total",
			Help:      "Compensation entries pushed onto a stack, by entry kind.",
		}, []string{"kind"}),
		undos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compensation",
			Name:      "undo_total",
			Help:      "Undo invocations run during compensation, by entry kind and outcome.",
		}, []string{"kind", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compensation",
			Name:      "runs_total",
			Help:      "Calls to Compensate, by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.entriesPushed, m.undos, m.compensations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observePush(kind EntryKind) {
	if m == nil {
		return
	}
	m.entriesPushed.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeUndo(kind EntryKind, err error) {
	if m == nil {
		return
	}
	m.undos.WithLabelValues(kind.String(), outcome(err)).Inc()
}

func (m *Metrics) observeCompensation(err error) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return outcomeFailure
	}
	return outcomeSuccess
}
