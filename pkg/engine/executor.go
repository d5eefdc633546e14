package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/ticketflow/pkg/actions"
	"github.com/dukex/ticketflow/pkg/eventbus"
	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/otelhelper"
	"github.com/dukex/ticketflow/pkg/persistence"
	"github.com/dukex/ticketflow/pkg/protocol"
)

// ExecuteRequest asks for one transition on one ticket. A zero Now means
// the executor's clock.
type ExecuteRequest struct {
	TicketID     string
	TransitionID string
	Invoker      models.Invoker
	Now          time.Time

	// SweepPassID tags records written by the sweeper.
	SweepPassID string
}

// Option configures an Executor.
type Option func(*Executor)

// WithPublisher publishes transition events on publisher.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock overrides the clock used when a request carries no time.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// Executor validates and applies transitions.
type Executor struct {
	persistence persistence.Persistence
	resolver    *Resolver
	actions     *actions.Executor
	roles       protocol.RoleResolver
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewExecutor(
	p persistence.Persistence,
	resolver *Resolver,
	actionExecutor *actions.Executor,
	roles protocol.RoleResolver,
	opts ...Option,
) *Executor {
	e := &Executor{
		persistence: p,
		resolver:    resolver,
		actions:     actionExecutor,
		roles:       roles,
		logger:      slog.Default().With("module", "engine"),
		tracer:      otel.Tracer("ticketflow/engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// errStale marks a status check that lost against a concurrent writer.
var errStale = errors.New("stale status")

// Execute runs one transition. Request errors leave everything unchanged.
// Once the ticket's status mutation begins it runs to completion regardless
// of ctx; either the status change, the action writes and the record commit
// together or nothing does.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*models.ExecutionRecord, error) {
	if req.Now.IsZero() {
		req.Now = e.now()
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute",
		attribute.String(otelhelper.TicketIDKey, req.TicketID),
		attribute.String(otelhelper.TransitionIDKey, req.TransitionID),
		attribute.String(otelhelper.InvokerIDKey, req.Invoker.ID),
	)
	defer span.End()

	record, err := e.execute(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)
		e.reject(ctx, req, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, string(record.Outcome)))
	e.executed(ctx, record)

	return record, nil
}

func (e *Executor) fail(req ExecuteRequest, sentinel, cause error) *TransitionError {
	return &TransitionError{
		Op:           "execute",
		TicketID:     req.TicketID,
		TransitionID: req.TransitionID,
		Err:          sentinel,
		Cause:        cause,
	}
}

func (e *Executor) execute(ctx context.Context, req ExecuteRequest) (*models.ExecutionRecord, error) {
	snapshot, err := e.persistence.TicketRepository().Snapshot(ctx, req.TicketID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, e.fail(req, ErrNotFound, err)
		}

		return nil, e.fail(req, ErrExecutionFailed, err)
	}

	definition, err := e.persistence.DefinitionRepository().GetByTransitionID(ctx, req.TransitionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, e.fail(req, ErrNotFound, err)
		}

		return nil, e.fail(req, ErrExecutionFailed, err)
	}

	transition := definition.TransitionByID(req.TransitionID)

	if snapshot.WorkflowID != definition.ID {
		return nil, e.fail(req, ErrWorkflowMismatch, nil)
	}

	if transition.FromStatus != snapshot.Status {
		return nil, e.fail(req, ErrInvalidFromState, nil)
	}

	if !req.Invoker.System {
		if err := e.authorize(ctx, req.Invoker, transition.RequiredRole); err != nil {
			return nil, e.fail(req, ErrForbidden, err)
		}
	}

	if !e.resolver.Allows(snapshot, definition, transition, req.Now) {
		return nil, e.fail(req, ErrConditionNotMet, nil)
	}

	// Last point at which the caller may walk away without effect.
	if err := ctx.Err(); err != nil {
		return nil, e.fail(req, ErrExecutionFailed, err)
	}

	record := e.newRecord(req, definition, transition)

	err = e.persistence.Atomic(context.WithoutCancel(ctx), func(ctx context.Context, tx persistence.Tx) error {
		if err := tx.Tickets().SetStatus(ctx, req.TicketID, transition.ToStatus, transition.FromStatus); err != nil {
			if persistence.IsConflict(err) {
				return errors.Join(errStale, err)
			}

			return err
		}

		record.ActionsApplied = e.actions.Apply(ctx, tx, transition.Actions, actions.ActionContext{
			TicketID:   req.TicketID,
			Definition: definition,
			Transition: transition,
			Snapshot:   snapshot,
			Invoker:    req.Invoker,
			Now:        req.Now,
		})
		record.Outcome = models.OutcomeOf(record.ActionsApplied)

		return tx.Records().Save(ctx, record)
	})
	if err != nil {
		if errors.Is(err, errStale) {
			return nil, e.fail(req, ErrInvalidFromState, err)
		}

		return nil, e.fail(req, ErrExecutionFailed, err)
	}

	return record, nil
}

// authorize checks the invoker against required. An empty requirement
// needs no role lookup.
func (e *Executor) authorize(ctx context.Context, invoker models.Invoker, required models.Role) error {
	if required == "" {
		return nil
	}

	if e.roles == nil {
		return errors.New("no role resolver configured")
	}

	role, err := e.roles.RoleOf(ctx, invoker)
	if err != nil {
		return err
	}

	if !role.Satisfies(required) {
		return errors.New("role " + string(role) + " is below " + string(required))
	}

	return nil
}

func (e *Executor) newRecord(req ExecuteRequest, definition *models.WorkflowDefinition, t *models.Transition) *models.ExecutionRecord {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return &models.ExecutionRecord{
		ID:             id.String(),
		TicketID:       req.TicketID,
		WorkflowID:     definition.ID,
		TransitionID:   t.ID,
		FromStatus:     t.FromStatus,
		ToStatus:       t.ToStatus,
		ExecutedBy:     req.Invoker.ID,
		Automatic:      req.Invoker.System,
		SweepPassID:    req.SweepPassID,
		ExecutedAt:     req.Now,
		ActionsApplied: make([]models.ActionResult, 0),
		Outcome:        models.OutcomeSuccess,
	}
}

func (e *Executor) executed(ctx context.Context, record *models.ExecutionRecord) {
	e.logger.InfoContext(ctx, "transition executed",
		"ticket_id", record.TicketID,
		"transition_id", record.TransitionID,
		"from_status", record.FromStatus,
		"to_status", record.ToStatus,
		"executed_by", record.ExecutedBy,
		"outcome", record.Outcome,
	)

	if e.publisher == nil {
		return
	}

	event := events.TransitionExecuted{
		BaseEvent:     events.NewBaseEvent(events.TransitionExecutedEvent, record.WorkflowID),
		RecordID:      record.ID,
		TicketID:      record.TicketID,
		TransitionID:  record.TransitionID,
		FromStatus:    record.FromStatus,
		ToStatus:      record.ToStatus,
		ExecutedBy:    record.ExecutedBy,
		Automatic:     record.Automatic,
		SweepPassID:   record.SweepPassID,
		Outcome:       record.Outcome,
		FailedActions: record.FailedActions(),
	}

	if err := e.publisher.Publish(ctx, record.TicketID, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish transition event", "ticket_id", record.TicketID, "error", err)
	}
}

func (e *Executor) reject(ctx context.Context, req ExecuteRequest, err error) {
	level := slog.LevelWarn
	if !IsRequestError(err) {
		level = slog.LevelError
	}

	e.logger.Log(ctx, level, "transition rejected",
		"ticket_id", req.TicketID,
		"transition_id", req.TransitionID,
		"invoker", req.Invoker.ID,
		"code", Code(err),
		"error", err,
	)

	if e.publisher == nil || !IsRequestError(err) {
		return
	}

	event := events.TransitionRejected{
		BaseEvent:    events.NewBaseEvent(events.TransitionRejectedEvent, ""),
		TicketID:     req.TicketID,
		TransitionID: req.TransitionID,
		InvokerID:    req.Invoker.ID,
		Code:         Code(err),
		Reason:       err.Error(),
	}

	if pubErr := e.publisher.Publish(ctx, req.TicketID, event); pubErr != nil {
		e.logger.ErrorContext(ctx, "failed to publish rejection event", "ticket_id", req.TicketID, "error", pubErr)
	}
}
