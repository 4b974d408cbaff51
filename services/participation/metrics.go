package participation

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	entriesRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participation_entries_recorded_total",
		Help: "Participation entries created, by category.",
	}, []string{"category"})
	hoursRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "participation_hours_recorded_total",
		Help: "Hours submitted across all created entries.",
	})
	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participation_decisions_total",
		Help: "Terminal status transitions, by resulting status.",
	}, []string{"status"})
	transitionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "participation_transition_conflicts_total",
		Help: "Transitions rejected because the entry was no longer pending.",
	})
	idempotentReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "participation_idempotent_replays_total",
		Help: "Record requests answered with a previously created entry.",
	})
)

func init() {
	prometheus.MustRegister(entriesRecorded, hoursRecorded, decisionsTotal, transitionConflicts, idempotentReplays)
}
