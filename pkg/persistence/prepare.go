package persistence

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/ticketflow/pkg/models"
)

// PrepareForSave assigns identifiers, ownership, positions and timestamps to
// definition before it is written. existing is the stored version, or nil on
// insert. Transition ids that do not belong to existing are replaced so a
// submission can never take over another definition's transitions.
func PrepareForSave(definition, existing *models.WorkflowDefinition, now time.Time) {
	if definition.ID == "" {
		definition.ID = uuid.New().String()
	}

	if existing != nil {
		definition.CreatedAt = existing.CreatedAt
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	seen := make(map[string]bool, len(definition.Transitions))

	for i, t := range definition.Transitions {
		if t.ID == "" || seen[t.ID] || existing == nil || existing.TransitionByID(t.ID) == nil {
			t.ID = uuid.New().String()
		}

		seen[t.ID] = true

		t.WorkflowID = definition.ID
		t.Position = i
	}
}
