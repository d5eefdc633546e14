// Package memory provides an in-process persistence implementation with
// copy-on-write units of work.
package memory

import (
	"maps"
	"slices"
	"time"

	"github.com/dukex/ticketflow/pkg/models"
)

// State is the full content of the store. It is exported so that other
// providers can serialise it.
type State struct {
	Definitions map[string]*models.WorkflowDefinition `json:"definitions"`
	Tickets     map[string]*TicketRow                 `json:"tickets"`
	Records     []*models.ExecutionRecord             `json:"records"`
}

// TicketRow is a ticket plus the side records written by actions.
type TicketRow struct {
	Ticket      *models.TicketSnapshot `json:"ticket"`
	Version     int64                  `json:"version"`
	Notes       []string               `json:"notes,omitempty"`
	Tasks       []StoredTask           `json:"tasks,omitempty"`
	Followups   []time.Time            `json:"followups,omitempty"`
	Escalations []string               `json:"escalations,omitempty"`
}

// StoredTask is a task created by a CreateTask action.
type StoredTask struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	AssigneeID  string        `json:"assignee_id,omitempty"`
	DueIn       time.Duration `json:"due_in,omitempty"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Definitions: make(map[string]*models.WorkflowDefinition),
		Tickets:     make(map[string]*TicketRow),
		Records:     make([]*models.ExecutionRecord, 0),
	}
}

// clone copies the state deeply enough for a unit of work: definitions are
// replaced, never mutated, so the map is copied shallowly; ticket rows are
// mutated in place and are copied deeply.
func (s *State) clone() *State {
	c := &State{
		Definitions: maps.Clone(s.Definitions),
		Tickets:     make(map[string]*TicketRow, len(s.Tickets)),
		Records:     slices.Clone(s.Records),
	}

	if c.Definitions == nil {
		c.Definitions = make(map[string]*models.WorkflowDefinition)
	}

	for id, row := range s.Tickets {
		c.Tickets[id] = row.clone()
	}

	return c
}

func (r *TicketRow) clone() *TicketRow {
	c := *r
	c.Ticket = r.Ticket.Clone()
	c.Notes = slices.Clone(r.Notes)
	c.Tasks = slices.Clone(r.Tasks)
	c.Followups = slices.Clone(r.Followups)
	c.Escalations = slices.Clone(r.Escalations)

	return &c
}
