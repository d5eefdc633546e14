// Package engine resolves and executes ticket workflow transitions.
package engine

import (
	"time"

	"github.com/dukex/ticketflow/pkg/condition"
	"github.com/dukex/ticketflow/pkg/models"
)

// Resolver lists the transitions a ticket may take.
type Resolver struct {
	evaluator *condition.Evaluator
}

func NewResolver(evaluator *condition.Evaluator) *Resolver {
	return &Resolver{evaluator: evaluator}
}

// AvailableTransitions returns the transitions leaving the ticket's status
// whose combined global and transition condition holds at now, in stored
// order. Tickets in a final status get none.
func (r *Resolver) AvailableTransitions(snapshot *models.TicketSnapshot, definition *models.WorkflowDefinition, now time.Time) []*models.Transition {
	available := make([]*models.Transition, 0)

	if definition.IsFinal(snapshot.Status) {
		return available
	}

	for _, t := range definition.Transitions {
		if t.FromStatus != snapshot.Status {
			continue
		}

		if r.Allows(snapshot, definition, t, now) {
			available = append(available, t)
		}
	}

	return available
}

// Allows evaluates the global condition AND the transition condition.
func (r *Resolver) Allows(snapshot *models.TicketSnapshot, definition *models.WorkflowDefinition, t *models.Transition, now time.Time) bool {
	return r.evaluator.EvaluateAll(snapshot, now, definition.GlobalCondition.Condition, t.Condition.Condition)
}
