package services

import (
	"context"
	"fmt"

	"github.com/dukex/ticketflow/pkg/engine"
	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence"
)

// DefaultExecutionsLimit caps execution history listings.
const DefaultExecutionsLimit = 50

// Tickets exposes the ticket-facing engine operations.
type Tickets struct {
	persistence persistence.Persistence
	resolver    *engine.Resolver
	executor    *engine.Executor
	options
}

func NewTickets(p persistence.Persistence, resolver *engine.Resolver, executor *engine.Executor, opts ...Option) *Tickets {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Tickets{
		persistence: p,
		resolver:    resolver,
		executor:    executor,
		options:     o,
	}
}

// Create registers a ticket with the local store.
func (t *Tickets) Create(ctx context.Context, ticket *models.TicketSnapshot) (*models.TicketSnapshot, error) {
	if ticket == nil {
		return nil, ErrInvalidRequest
	}

	ticket.Status = ""
	ticket.WorkflowID = ""

	if err := t.persistence.TicketRepository().Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	return ticket, nil
}

// Get returns the current snapshot of a ticket.
func (t *Tickets) Get(ctx context.Context, ticketID string) (*models.TicketSnapshot, error) {
	return t.persistence.TicketRepository().Snapshot(ctx, ticketID)
}

// Bind attaches a ticket to an active definition and resets its status to
// the definition's initial status.
func (t *Tickets) Bind(ctx context.Context, ticketID, workflowID string) (*models.TicketSnapshot, error) {
	definition, err := t.persistence.DefinitionRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := t.persistence.TicketRepository().Bind(ctx, ticketID, definition); err != nil {
		return nil, err
	}

	t.changed(ctx, ticketID, "workflow_id", "status")

	return t.persistence.TicketRepository().Snapshot(ctx, ticketID)
}

// Available lists the transitions the ticket may take now, in stored order.
// Unbound tickets have none.
func (t *Tickets) Available(ctx context.Context, ticketID string) ([]*models.Transition, error) {
	snapshot, err := t.persistence.TicketRepository().Snapshot(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if snapshot.WorkflowID == "" {
		return make([]*models.Transition, 0), nil
	}

	definition, err := t.persistence.DefinitionRepository().GetByID(ctx, snapshot.WorkflowID)
	if err != nil {
		return nil, err
	}

	return t.resolver.AvailableTransitions(snapshot, definition, t.now()), nil
}

// Execute runs a manual transition for invoker.
func (t *Tickets) Execute(ctx context.Context, ticketID, transitionID string, invoker models.Invoker) (*models.ExecutionRecord, error) {
	if invoker.ID == "" || invoker.System || invoker.ID == models.SystemInvoker.ID {
		return nil, NewValidationError("Execute", "INVALID_INVOKER", "an operator identity is required", ErrInvalidRequest)
	}

	return t.executor.Execute(ctx, engine.ExecuteRequest{
		TicketID:     ticketID,
		TransitionID: transitionID,
		Invoker:      invoker,
		Now:          t.now(),
	})
}

// Executions returns the ticket's audit trail, newest first.
func (t *Tickets) Executions(ctx context.Context, ticketID string, limit int) ([]*models.ExecutionRecord, error) {
	if limit <= 0 || limit > DefaultExecutionsLimit {
		limit = DefaultExecutionsLimit
	}

	if _, err := t.persistence.TicketRepository().Snapshot(ctx, ticketID); err != nil {
		return nil, err
	}

	return t.persistence.ExecutionRecordRepository().ListByTicket(ctx, ticketID, limit)
}

// UpdateFields writes custom or well-known fields through the ticket port
// and announces the change so automatic transitions are re-checked.
func (t *Tickets) UpdateFields(ctx context.Context, ticketID string, fields map[string]any) (*models.TicketSnapshot, error) {
	if len(fields) == 0 {
		return nil, NewValidationError("UpdateFields", "NO_FIELDS", "no fields to update", ErrInvalidRequest)
	}

	names := make([]string, 0, len(fields))

	err := t.persistence.Atomic(ctx, func(ctx context.Context, tx persistence.Tx) error {
		for field, value := range fields {
			if err := tx.Tickets().ApplyFieldUpdate(ctx, ticketID, field, value); err != nil {
				return err
			}

			names = append(names, field)
		}

		return nil
	})
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, err
		}

		return nil, NewValidationError("UpdateFields", "INVALID_FIELD", err.Error(), ErrInvalidRequest)
	}

	t.changed(ctx, ticketID, names...)

	return t.persistence.TicketRepository().Snapshot(ctx, ticketID)
}

func (t *Tickets) changed(ctx context.Context, ticketID string, fields ...string) {
	if t.publisher == nil {
		return
	}

	event := events.TicketChanged{
		BaseEvent: events.NewBaseEvent(events.TicketChangedEvent, ""),
		TicketID:  ticketID,
		Fields:    fields,
	}

	if err := t.publisher.Publish(ctx, ticketID, event); err != nil {
		t.logger.ErrorContext(ctx, "failed to publish ticket change", "ticket_id", ticketID, "error", err)
	}
}

