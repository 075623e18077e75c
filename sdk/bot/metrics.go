package bot

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters the pipeline and dispatcher update. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	messages      *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	dispatches    *prometheus.CounterVec
	inflight      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automod_messages_total",
				Help: "Inbound messages by pipeline outcome.",
			},
			[]string{"outcome"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automod_stage_failures_total",
				Help: "Failed pipeline stages.",
			},
			[]string{"stage"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automod_dispatches_total",
				Help: "Dispatched interactions by command and result.",
			},
			[]string{"command", "result"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automod_inflight_messages",
			Help: "Messages currently holding a pipeline slot.",
		}),
	}
	for _, c := range []prometheus.Collector{m.messages, m.stageFailures, m.dispatches, m.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) message(o Outcome) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) stageFailed(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) dispatched(command, result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(command, result).Inc()
}

func (m *Metrics) inflightAdd(d float64) {
	if m == nil {
		return
	}
	m.inflight.Add(d)
}
