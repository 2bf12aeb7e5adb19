package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rtcengine"

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	state             *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	reconnectResults  *prometheus.CounterVec
	dataPackets       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current engine connection state, 0 for the others",
		}, []string{"state"}),
		reconnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by strategy",
		}, []string{"strategy"}),
		reconnectResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_results_total",
			Help:      "Finished reconnect attempts by strategy and result",
		}, []string{"strategy", "result"}),
		dataPackets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_packets_total",
			Help:      "User data packets by direction and kind",
		}, []string{"direction", "kind"}),
	}
}

func (m *Metrics) setState(current string) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) attempt(strategy string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(strategy).Inc()
}

func (m *Metrics) result(strategy string, err error) {
	if m == nil {
		return
	}
	res := "success"
	if err != nil {
		res = "failure"
	}
	m.reconnectResults.WithLabelValues(strategy, res).Inc()
}

func (m *Metrics) packet(direction, kind string) {
	if m == nil {
		return
	}
	m.dataPackets.WithLabelValues(direction, kind).Inc()
}
