package rtcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus surface of a session, grounded on
// pkg/dialog/metrics.go's promauto.NewCounter/NewGauge/NewCounterVec usage
// in the same teacher repository (there: dialog/transaction counters; here:
// RTCP scheduler/packet counters). Safe to share a single *Metrics across
// every Session in a process: every series is labelled by session_id.
type Metrics struct {
	packetsSent       *prometheus.CounterVec
	packetsReceived   *prometheus.CounterVec
	byeEvents         *prometheus.CounterVec
	reconsiderations  *prometheus.CounterVec
	schedulerState    *prometheus.GaugeVec
	currentInterval   *prometheus.GaugeVec
	membersGauge      *prometheus.GaugeVec
}

// NewMetrics registers the collectors against reg. When reg is nil the
// collectors are created but not registered anywhere (promauto.With's
// behaviour for a nil Registerer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtcp",
			Name:      "packets_sent_total",
			Help:      "RTCP compound packets transmitted, by kind (report/bye).",
		}, []string{"session_id", "kind"}),
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtcp",
			Name:      "packets_received_total",
			Help:      "RTCP compound packets received.",
		}, []string{"session_id"}),
		byeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtcp",
			Name:      "bye_events_total",
			Help:      "Inbound BYE packets that left fewer members than pmembers.",
		}, []string{"session_id"}),
		reconsiderations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtcp",
			Name:      "reconsiderations_total",
			Help:      "Reverse-reconsideration requests the scheduler accepted without error (including ones ignored because no REPORT was pending).",
		}, []string{"session_id"}),
		schedulerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtcp",
			Name:      "scheduler_state",
			Help:      "Scheduler FSM state (1 for the active state, 0 otherwise), one series per state.",
		}, []string{"session_id", "state"}),
		currentInterval: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtcp",
			Name:      "interval_seconds",
			Help:      "Most recently drawn RFC 3550 transmission interval.",
		}, []string{"session_id"}),
		membersGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtcp",
			Name:      "members",
			Help:      "Current member table size.",
		}, []string{"session_id"}),
	}
}
