// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/dukex/ticketflow/pkg/models"
)

// WorkflowRequest is the body of create and update requests. On update the
// transition list replaces the stored one: transitions sent with an id are
// updated, the rest are inserted, and missing ones are deleted.
type WorkflowRequest struct {
	TenantID        string                  `json:"tenant_id"         validate:"required"`
	Name            string                  `json:"name"              validate:"required,min=3,max=255"`
	Description     string                  `json:"description"`
	InitialStatus   string                  `json:"initial_status"    validate:"required"`
	FinalStatuses   []string                `json:"final_statuses"    validate:"dive,required"`
	IsActive        bool                    `json:"is_active"`
	GlobalCondition models.ConditionSpec    `json:"global_conditions"`
	AutoAssignRules *models.AutoAssignRules `json:"auto_assign_rules,omitempty"`
	Transitions     []TransitionRequest     `json:"transitions"       validate:"dive"`
}

// TransitionRequest describes one transition of a WorkflowRequest.
type TransitionRequest struct {
	ID           string               `json:"id,omitempty"`
	Name         string               `json:"name"                    validate:"required"`
	FromStatus   string               `json:"from_status"             validate:"required"`
	ToStatus     string               `json:"to_status"               validate:"required"`
	Condition    models.ConditionSpec `json:"condition"`
	Actions      models.ActionList    `json:"actions"`
	RequiredRole string               `json:"required_role,omitempty" validate:"omitempty,oneof=agent supervisor admin"`
	IsAutomatic  bool                 `json:"is_automatic"`
}

// Definition converts the request into a definition model.
func (r WorkflowRequest) Definition() *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		TenantID:        r.TenantID,
		Name:            r.Name,
		Description:     r.Description,
		InitialStatus:   r.InitialStatus,
		FinalStatuses:   r.FinalStatuses,
		IsActive:        r.IsActive,
		GlobalCondition: r.GlobalCondition,
		AutoAssignRules: r.AutoAssignRules,
		Transitions:     make([]*models.Transition, 0, len(r.Transitions)),
	}

	if definition.FinalStatuses == nil {
		definition.FinalStatuses = make([]string, 0)
	}

	for _, t := range r.Transitions {
		definition.Transitions = append(definition.Transitions, &models.Transition{
			ID:           t.ID,
			Name:         t.Name,
			FromStatus:   t.FromStatus,
			ToStatus:     t.ToStatus,
			Condition:    t.Condition,
			Actions:      t.Actions,
			RequiredRole: models.Role(t.RequiredRole),
			IsAutomatic:  t.IsAutomatic,
		})
	}

	return definition
}

type DuplicateWorkflowRequest struct {
	Name string `json:"name" validate:"omitempty,min=3,max=255"`
}

type ConditionPreviewRequest struct {
	Condition       models.ConditionSpec  `json:"condition"`
	GlobalCondition models.ConditionSpec  `json:"global_condition"`
	Ticket          models.TicketSnapshot `json:"ticket"`
	Now             *time.Time            `json:"now,omitempty"`
}

type ActionPreviewRequest struct {
	Actions         models.ActionList       `json:"actions"                     validate:"required,min=1"`
	Ticket          models.TicketSnapshot   `json:"ticket"`
	AutoAssignRules *models.AutoAssignRules `json:"auto_assign_rules,omitempty"`
	Now             *time.Time              `json:"now,omitempty"`
}

// CreateTicketRequest registers a ticket with the local store and binds it
// when WorkflowID is set.
type CreateTicketRequest struct {
	ID           string         `json:"id,omitempty"          validate:"omitempty,max=255"`
	Priority     string         `json:"priority,omitempty"`
	Tags         []string       `json:"tags,omitempty"        validate:"dive,required"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	TeamID       string         `json:"team_id,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	WorkflowID   string         `json:"workflow_id,omitempty"`
}

func (r CreateTicketRequest) Ticket() *models.TicketSnapshot {
	return &models.TicketSnapshot{
		ID:           r.ID,
		Priority:     r.Priority,
		Tags:         r.Tags,
		AssignedTo:   r.AssignedTo,
		TeamID:       r.TeamID,
		CreatedBy:    r.CreatedBy,
		CustomFields: r.CustomFields,
	}
}

type BindTicketRequest struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
}

type UpdateFieldsRequest struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

// TransitionResponse is a transition offered to an operator.
type TransitionResponse struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	FromStatus   string      `json:"from_status"`
	ToStatus     string      `json:"to_status"`
	RequiredRole models.Role `json:"required_role,omitempty"`
	IsAutomatic  bool        `json:"is_automatic"`
}

// TransformTransitions strips conditions and actions from listed transitions.
func TransformTransitions(transitions []*models.Transition) []TransitionResponse {
	response := make([]TransitionResponse, 0, len(transitions))

	for _, t := range transitions {
		response = append(response, TransitionResponse{
			ID:           t.ID,
			Name:         t.Name,
			FromStatus:   t.FromStatus,
			ToStatus:     t.ToStatus,
			RequiredRole: t.RequiredRole,
			IsAutomatic:  t.IsAutomatic,
		})
	}

	return response
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}

	return *t
}
