// Package persistence provides the storage abstraction for workflow
// definitions, bound tickets and execution records.
package persistence

import (
	"context"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/protocol"
)

// Persistence is the storage port of the engine.
type Persistence interface {
	DefinitionRepository() DefinitionRepository
	TicketRepository() TicketRepository
	ExecutionRecordRepository() ExecutionRecordRepository

	// Atomic runs fn in one unit of work. Everything written through tx is
	// committed together when fn returns nil and discarded otherwise. A
	// failing commit returns an error wrapping ErrCommitFailed.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx is the view of an open unit of work.
type Tx interface {
	Tickets() protocol.TicketStore
	Records() ExecutionRecordWriter

	// Savepoint runs fn in a nested unit. When fn fails, only the writes made
	// inside it are discarded and the enclosing unit stays usable.
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListDefinitionsOptions filters, sorts and paginates definition listings.
type ListDefinitionsOptions struct {
	TenantID string
	Active   *bool

	Limit  int
	Offset int

	SortBy    string
	SortOrder string
}

// DefinitionListResult is one page of definitions.
type DefinitionListResult struct {
	Definitions []*models.WorkflowDefinition
	TotalCount  int64
	HasNextPage bool
}

// DefinitionRepository stores workflow definitions together with their transitions.
type DefinitionRepository interface {
	List(ctx context.Context, opts ListDefinitionsOptions) (*DefinitionListResult, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetByName(ctx context.Context, tenantID, name string) (*models.WorkflowDefinition, error)
	GetByTransitionID(ctx context.Context, transitionID string) (*models.WorkflowDefinition, error)
	ListActiveWithAutomatic(ctx context.Context) ([]*models.WorkflowDefinition, error)

	// Save inserts or updates a definition. On update the transition set is
	// replaced atomically: transitions matched by id are updated, missing ones
	// are deleted and transitions without an id are inserted with a new id.
	Save(ctx context.Context, definition *models.WorkflowDefinition) error

	// Delete removes a definition and its transitions. It fails with
	// ErrDefinitionInUse while a bound ticket sits in a non-final state.
	Delete(ctx context.Context, id string) error
}

// TicketRepository is the host-side ticket read port plus the queries the
// engine needs for binding, sweeping and referential integrity.
type TicketRepository interface {
	protocol.TicketReader

	Create(ctx context.Context, ticket *models.TicketSnapshot) error

	// Bind attaches a ticket to an active definition and resets its status
	// to the definition's initial status.
	Bind(ctx context.Context, ticketID string, definition *models.WorkflowDefinition) error

	// ListByWorkflowAndStatus returns tickets bound to workflowID whose status is one of statuses.
	ListByWorkflowAndStatus(ctx context.Context, workflowID string, statuses []string) ([]*models.TicketSnapshot, error)

	// CountActive counts tickets bound to workflowID whose status is not final.
	CountActive(ctx context.Context, workflowID string, finalStatuses []string) (int, error)
}

// ExecutionRecordWriter persists execution records inside a unit of work.
type ExecutionRecordWriter interface {
	Save(ctx context.Context, record *models.ExecutionRecord) error
}

// ExecutionRecordRepository reads the audit trail.
type ExecutionRecordRepository interface {
	ListByTicket(ctx context.Context, ticketID string, limit int) ([]*models.ExecutionRecord, error)
	ListBySweepPass(ctx context.Context, passID string) ([]*models.ExecutionRecord, error)
}
