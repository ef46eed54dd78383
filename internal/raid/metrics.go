package raid

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	eventsStarted   *prometheus.CounterVec
	eventsClosed    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	signalsAccepted *prometheus.CounterVec
	signalsRejected *prometheus.CounterVec
	dialogs         *prometheus.CounterVec
	credits         *prometheus.CounterVec
	activeEvents    *prometheus.GaugeVec
}

// NewMetrics registers coordinator metrics on reg. A nil reg keeps the
// collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raidline",
			Name:      "events_started_total",
			Help:      "Events started, by kind",
		}, []string{"kind"}),
		eventsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raidline",
			Name:      "events_closed_total",
			Help:      "Events closed, by kind and outcome",
		}, []string{"kind", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raidline",
			Name:      "phase_transitions_total",
			Help:      "Phase transitions, by source and target phase",
		}, []string{"from", "to"}),
		signalsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raidline",
			Name:      "signals_accepted_total",
			Help:      "Capped signals committed, by kind",
		}, []string{"kind"}),
		signalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raidline",
			Name:      "signals_rejected_total",
			Help:      "Rejected signals and admissions, by kind and reason",
		}, []string{"kind", "reason"}),
		dialogs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raidline",
			Name:      "confirmation_dialogs_total",
			Help:      "Finished confirmation dialogs, by terminal state",
		}, []string{"state"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raidline",
			Name:      "credits_granted_total",
			Help:      "Participation credits granted, by category",
		}, []string{"category"}),
		activeEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raidline",
			Name:      "active_events",
			Help:      "Events currently held in memory, by kind",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsStarted, m.eventsClosed, m.transitions, m.signalsAccepted,
			m.signalsRejected, m.dialogs, m.credits, m.activeEvents)
	}
	return m
}
