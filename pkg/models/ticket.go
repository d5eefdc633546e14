package models

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// TicketSnapshot is an immutable read view of a ticket at evaluation time.
type TicketSnapshot struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id,omitempty"`
	Status       string         `json:"status"`
	Priority     string         `json:"priority,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	TeamID       string         `json:"team_id,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// HasTag reports whether the ticket carries tag.
func (s *TicketSnapshot) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Field resolves a field by name: custom fields first, then the well-known
// attributes status, priority, assigned_to and created_by. Well-known
// attributes that are empty count as missing.
func (s *TicketSnapshot) Field(name string) (any, bool) {
	if v, ok := s.CustomFields[name]; ok {
		return v, true
	}

	var v string

	switch name {
	case "status":
		v = s.Status
	case "priority":
		v = s.Priority
	case "assigned_to":
		v = s.AssignedTo
	case "created_by":
		v = s.CreatedBy
	default:
		return nil, false
	}

	if v == "" {
		return nil, false
	}

	return v, true
}

// Clone returns a deep copy of the snapshot.
func (s *TicketSnapshot) Clone() *TicketSnapshot {
	clone := *s
	clone.Tags = slices.Clone(s.Tags)
	clone.CustomFields = maps.Clone(s.CustomFields)

	return &clone
}

// SetField writes a field by name. Identity and lifecycle fields are
// protected; priority and assignment map onto the ticket, everything else is
// a custom field.
func (s *TicketSnapshot) SetField(field string, value any) error {
	switch field {
	case "id", "status", "workflow_id", "created_by", "created_at":
		return fmt.Errorf("%w: %s", ErrProtectedField, field)
	case "priority":
		s.Priority = Stringify(value)
	case "assigned_to":
		s.AssignedTo = Stringify(value)
	case "team_id":
		s.TeamID = Stringify(value)
	default:
		if s.CustomFields == nil {
			s.CustomFields = make(map[string]any)
		}

		s.CustomFields[field] = value
	}

	return nil
}

// Assignee is the target of an assignment: a user, a team, or both.
type Assignee struct {
	UserID string `json:"user_id,omitempty"`
	TeamID string `json:"team_id,omitempty"`
}
