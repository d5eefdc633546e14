package actions

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/protocol"
)

// PreviewResult is the outcome of a dry run.
type PreviewResult struct {
	Ticket  *models.TicketSnapshot `json:"ticket"`
	Results []models.ActionResult  `json:"results"`
	Effects []string               `json:"effects"`
}

// Preview applies list to a copy of snapshot. Nothing is persisted and no
// notification leaves the process; side effects outside the snapshot are
// described in Effects.
func (e *Executor) Preview(ctx context.Context, list models.ActionList, snapshot *models.TicketSnapshot, definition *models.WorkflowDefinition, now time.Time) *PreviewResult {
	unit := &previewUnit{ticket: snapshot.Clone()}

	dry := &Executor{
		notifier:            unit,
		logger:              e.logger,
		tracer:              e.tracer,
		notificationTimeout: e.notificationTimeout,
	}

	results := dry.Apply(ctx, unit, list, ActionContext{
		TicketID:   snapshot.ID,
		Definition: definition,
		Snapshot:   snapshot,
		Invoker:    models.SystemInvoker,
		Now:        now,
	})

	return &PreviewResult{
		Ticket:  unit.ticket,
		Results: results,
		Effects: unit.effects,
	}
}

// previewUnit is a single-ticket store and notifier that records effects.
type previewUnit struct {
	ticket  *models.TicketSnapshot
	effects []string
}

func (u *previewUnit) Tickets() protocol.TicketStore {
	return u
}

func (u *previewUnit) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	ticket := u.ticket.Clone()
	effects := slices.Clone(u.effects)

	if err := fn(ctx); err != nil {
		u.ticket = ticket
		u.effects = effects

		return err
	}

	return nil
}

func (u *previewUnit) record(format string, args ...any) {
	u.effects = append(u.effects, fmt.Sprintf(format, args...))
}

func (u *previewUnit) Snapshot(_ context.Context, _ string) (*models.TicketSnapshot, error) {
	return u.ticket.Clone(), nil
}

func (u *previewUnit) SetStatus(_ context.Context, _, newStatus, expectedStatus string) error {
	if u.ticket.Status != expectedStatus {
		return fmt.Errorf("status is %q, expected %q", u.ticket.Status, expectedStatus)
	}

	u.ticket.Status = newStatus

	return nil
}

func (u *previewUnit) ApplyFieldUpdate(_ context.Context, _, field string, value any) error {
	return u.ticket.SetField(field, value)
}

func (u *previewUnit) SetPriority(_ context.Context, _, priority string) error {
	u.ticket.Priority = priority

	return nil
}

func (u *previewUnit) Assign(_ context.Context, _ string, assignee models.Assignee) error {
	if assignee.UserID != "" {
		u.ticket.AssignedTo = assignee.UserID
	}

	if assignee.TeamID != "" {
		u.ticket.TeamID = assignee.TeamID
	}

	return nil
}

func (u *previewUnit) AddTag(_ context.Context, _, tag string) error {
	if !u.ticket.HasTag(tag) {
		u.ticket.Tags = append(u.ticket.Tags, tag)
	}

	return nil
}

func (u *previewUnit) RemoveTag(_ context.Context, _, tag string) error {
	u.ticket.Tags = slices.DeleteFunc(u.ticket.Tags, func(t string) bool { return t == tag })

	return nil
}

func (u *previewUnit) AppendNote(_ context.Context, _, text string) error {
	u.record("note: %s", text)

	return nil
}

func (u *previewUnit) CreateTask(_ context.Context, _ string, task models.TaskSpec) error {
	u.record("task: %s", task.Title)

	return nil
}

func (u *previewUnit) ScheduleFollowup(_ context.Context, _ string, at time.Time) error {
	u.record("followup at %s", at.Format(time.RFC3339))

	return nil
}

func (u *previewUnit) Escalate(_ context.Context, _, reason string) error {
	u.record("escalation: %s", reason)

	return nil
}

func (u *previewUnit) SendEmail(_ context.Context, template string, recipients []string, _ map[string]any) error {
	u.record("email %q to %s", template, strings.Join(recipients, ", "))

	return nil
}

func (u *previewUnit) NotifyClient(_ context.Context, _, template string) error {
	u.record("client notification %q", template)

	return nil
}
