package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Escalation outcomes reported by AssignNextRound.
const (
	EscalationAssigned  = "assigned"
	EscalationExhausted = "exhausted"
	EscalationSkipped   = "skipped"
	EscalationFailed    = "failed"
)

// WorkflowMetrics counts review workflow events.
type WorkflowMetrics struct {
	submissions   *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
	escalations   *prometheus.CounterVec
}

// NewWorkflowMetrics creates the counters and registers them with reg when
// reg is not nil.
func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journal_review",
			Name:      "submissions_total",
			Help:      "The total number of completed review submissions.",
		}, []string{"recommendation"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journal_review",
			Name:      "status_changes_total",
			Help:      "The total number of direct review status updates.",
		}, []string{"status"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journal_review",
			Name:      "escalations_total",
			Help:      "The total number of next-round assignment attempts by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.statusChanges, m.escalations)
	}
	return m
}

func (m *WorkflowMetrics) observeSubmission(recommendation string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(recommendation).Inc()
}

func (m *WorkflowMetrics) observeStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

func (m *WorkflowMetrics) observeEscalation(outcome string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(outcome).Inc()
}
