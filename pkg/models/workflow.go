// Package models defines the core domain models for ticket workflow definitions.
package models

import (
	"slices"
	"time"
)

// WorkflowDefinition is a named, reusable lifecycle for support tickets.
type WorkflowDefinition struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"         validate:"required"`
	Name            string           `json:"name"              validate:"required,min=3,max=255"`
	Description     string           `json:"description"`
	InitialStatus   string           `json:"initial_status"    validate:"required"`
	FinalStatuses   []string         `json:"final_statuses"`
	IsActive        bool             `json:"is_active"`
	GlobalCondition ConditionSpec    `json:"global_conditions"`
	AutoAssignRules *AutoAssignRules `json:"auto_assign_rules,omitempty"`
	Transitions     []*Transition    `json:"transitions"`
	CreatedBy       string           `json:"created_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Transition is a directed edge between two states of a definition.
type Transition struct {
	ID           string        `json:"id"`
	WorkflowID   string        `json:"workflow_id"`
	Name         string        `json:"name"          validate:"required"`
	FromStatus   string        `json:"from_status"   validate:"required"`
	ToStatus     string        `json:"to_status"     validate:"required"`
	Condition    ConditionSpec `json:"condition"`
	Actions      ActionList    `json:"actions"`
	RequiredRole Role          `json:"required_role,omitempty"`
	IsAutomatic  bool          `json:"is_automatic"`
	Position     int           `json:"position"`
}

// AutoAssignRules is consulted by assignment actions that carry no explicit target.
type AutoAssignRules struct {
	DefaultTeamID string   `json:"default_team_id,omitempty"`
	UserPool      []string `json:"user_pool,omitempty"`
}

// IsFinal reports whether status is one of the definition's terminal states.
func (d *WorkflowDefinition) IsFinal(status string) bool {
	return slices.Contains(d.FinalStatuses, status)
}

// States returns the open vocabulary of states declared by the definition,
// in first-seen order: the initial state, then transition endpoints, then final states.
func (d *WorkflowDefinition) States() []string {
	seen := make(map[string]bool)
	states := make([]string, 0)

	add := func(s string) {
		if s == "" || seen[s] {
			return
		}

		seen[s] = true
		states = append(states, s)
	}

	add(d.InitialStatus)

	for _, t := range d.Transitions {
		add(t.FromStatus)
		add(t.ToStatus)
	}

	for _, s := range d.FinalStatuses {
		add(s)
	}

	return states
}

// TransitionByID returns the transition with the given id, or nil.
func (d *WorkflowDefinition) TransitionByID(id string) *Transition {
	for _, t := range d.Transitions {
		if t.ID == id {
			return t
		}
	}

	return nil
}

// AutomaticTransitions returns the automatic transitions in stored order.
func (d *WorkflowDefinition) AutomaticTransitions() []*Transition {
	automatic := make([]*Transition, 0)

	for _, t := range d.Transitions {
		if t.IsAutomatic {
			automatic = append(automatic, t)
		}
	}

	return automatic
}

// IsSelfLoop reports whether the transition leaves the status unchanged.
func (t *Transition) IsSelfLoop() bool {
	return t.FromStatus == t.ToStatus
}

// Clone returns a deep copy of the definition. Conditions and actions are
// immutable values and are shared.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}

	clone := *d
	clone.FinalStatuses = slices.Clone(d.FinalStatuses)

	if d.AutoAssignRules != nil {
		rules := *d.AutoAssignRules
		rules.UserPool = slices.Clone(d.AutoAssignRules.UserPool)
		clone.AutoAssignRules = &rules
	}

	clone.Transitions = make([]*Transition, 0, len(d.Transitions))

	for _, t := range d.Transitions {
		tc := *t
		tc.Actions = slices.Clone(t.Actions)
		clone.Transitions = append(clone.Transitions, &tc)
	}

	return &clone
}
