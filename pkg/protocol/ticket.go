// Package protocol defines the ports the workflow engine consumes from its host.
package protocol

import (
	"context"
	"time"

	"github.com/dukex/ticketflow/pkg/models"
)

// TicketReader loads point-in-time ticket snapshots.
type TicketReader interface {
	Snapshot(ctx context.Context, ticketID string) (*models.TicketSnapshot, error)
}

// TicketWriter issues mutation requests against a ticket by identifier.
type TicketWriter interface {
	// SetStatus moves the ticket to newStatus only if its current status is
	// expectedStatus; otherwise it fails with persistence.ErrConflict.
	SetStatus(ctx context.Context, ticketID, newStatus, expectedStatus string) error
	ApplyFieldUpdate(ctx context.Context, ticketID, field string, value any) error
	SetPriority(ctx context.Context, ticketID, priority string) error
	Assign(ctx context.Context, ticketID string, assignee models.Assignee) error
	AddTag(ctx context.Context, ticketID, tag string) error
	RemoveTag(ctx context.Context, ticketID, tag string) error
	AppendNote(ctx context.Context, ticketID, text string) error
	CreateTask(ctx context.Context, ticketID string, task models.TaskSpec) error
	ScheduleFollowup(ctx context.Context, ticketID string, at time.Time) error
	Escalate(ctx context.Context, ticketID, reason string) error
}

// TicketStore is a reader and writer bound to the same unit of work.
type TicketStore interface {
	TicketReader
	TicketWriter
}
