// Package sweeper fires automatic transitions on tickets whose conditions
// became true with time or through host-side changes.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/ticketflow/pkg/engine"
	"github.com/dukex/ticketflow/pkg/eventbus"
	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/otelhelper"
	"github.com/dukex/ticketflow/pkg/persistence"
)

// PassReport summarises one sweep pass.
type PassReport struct {
	PassID    string
	StartedAt time.Time
	Duration  time.Duration

	// Examined counts candidate tickets looked at, Executed the committed
	// transitions, Skipped tickets already claimed or refused by a request
	// error, Failed tickets whose execution or claim failed.
	Examined int
	Executed int
	Skipped  int
	Failed   int

	Records []*models.ExecutionRecord
}

type Option func(*Sweeper)

func WithLedger(ledger Ledger) Option {
	return func(s *Sweeper) {
		if ledger != nil {
			s.ledger = ledger
		}
	}
}

// WithPublisher publishes a sweep.completed event after every pass.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Sweeper) {
		s.publisher = publisher
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Sweeper) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithPassWindow keys every pass on its start time truncated to window, so
// replicas sharing a ledger and firing within the same window claim tickets
// under the same pass. Zero gives every pass its own ID.
func WithPassWindow(window time.Duration) Option {
	return func(s *Sweeper) {
		if window > 0 {
			s.passWindow = window
		}
	}
}

// Sweeper evaluates automatic transitions and executes them as the system invoker.
type Sweeper struct {
	persistence persistence.Persistence
	resolver    *engine.Resolver
	executor    *engine.Executor
	ledger      Ledger
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	passWindow  time.Duration
}

func New(p persistence.Persistence, resolver *engine.Resolver, executor *engine.Executor, opts ...Option) *Sweeper {
	s := &Sweeper{
		persistence: p,
		resolver:    resolver,
		executor:    executor,
		ledger:      NewMemoryLedger(DefaultLedgerTTL),
		logger:      slog.Default().With("module", "sweeper"),
		tracer:      otel.Tracer("ticketflow/sweeper"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sweep runs one pass over every active definition carrying automatic
// transitions. A ticket takes at most one automatic transition per pass.
// Per-ticket failures are counted and the pass continues; a cancelled ctx
// stops the pass between tickets.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (*PassReport, error) {
	if now.IsZero() {
		now = s.now()
	}

	report := &PassReport{
		PassID:    s.PassID(now),
		StartedAt: now,
		Records:   make([]*models.ExecutionRecord, 0),
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "sweeper.sweep",
		attribute.String(otelhelper.SweepPassIDKey, report.PassID),
	)
	defer span.End()

	started := time.Now()

	err := s.sweep(ctx, report, now)

	report.Duration = time.Since(started)

	span.SetAttributes(
		attribute.Int("ticketflow.sweep.examined", report.Examined),
		attribute.Int("ticketflow.sweep.executed", report.Executed),
		attribute.Int("ticketflow.sweep.failed", report.Failed),
	)

	if err != nil {
		otelhelper.SetError(span, err)
		s.logger.ErrorContext(ctx, "sweep pass aborted", "pass_id", report.PassID, "error", err)

		return report, err
	}

	s.logger.InfoContext(ctx, "sweep pass completed",
		"pass_id", report.PassID,
		"examined", report.Examined,
		"executed", report.Executed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	s.completed(ctx, report)

	return report, nil
}

func (s *Sweeper) sweep(ctx context.Context, report *PassReport, now time.Time) error {
	definitions, err := s.persistence.DefinitionRepository().ListActiveWithAutomatic(ctx)
	if err != nil {
		return fmt.Errorf("failed to load automatic definitions: %w", err)
	}

	for _, definition := range definitions {
		statuses := automaticFromStatuses(definition)
		if len(statuses) == 0 {
			continue
		}

		tickets, err := s.persistence.TicketRepository().ListByWorkflowAndStatus(ctx, definition.ID, statuses)
		if err != nil {
			return fmt.Errorf("failed to list tickets of workflow %s: %w", definition.ID, err)
		}

		for _, ticket := range tickets {
			if err := ctx.Err(); err != nil {
				return err
			}

			s.sweepTicket(ctx, report, definition, ticket, now)
		}
	}

	return nil
}

func (s *Sweeper) sweepTicket(
	ctx context.Context,
	report *PassReport,
	definition *models.WorkflowDefinition,
	ticket *models.TicketSnapshot,
	now time.Time,
) {
	report.Examined++

	transition := s.firstApplicable(ticket, definition, now)
	if transition == nil {
		return
	}

	claimed, err := s.ledger.Claim(ctx, report.PassID, ticket.ID)
	if err != nil {
		report.Failed++
		s.logger.ErrorContext(ctx, "failed to claim ticket", "pass_id", report.PassID, "ticket_id", ticket.ID, "error", err)

		return
	}

	if !claimed {
		report.Skipped++

		return
	}

	record, err := s.executor.Execute(ctx, engine.ExecuteRequest{
		TicketID:     ticket.ID,
		TransitionID: transition.ID,
		Invoker:      models.SystemInvoker,
		Now:          now,
		SweepPassID:  report.PassID,
	})
	if err != nil {
		if engine.IsRequestError(err) {
			report.Skipped++

			return
		}

		report.Failed++
		s.logger.ErrorContext(ctx, "automatic transition failed",
			"pass_id", report.PassID,
			"ticket_id", ticket.ID,
			"transition_id", transition.ID,
			"error", err,
		)

		return
	}

	report.Executed++
	report.Records = append(report.Records, record)
}

// SweepTicket checks a single ticket, typically after the host reported a
// change. It returns a nil record when no automatic transition applies.
func (s *Sweeper) SweepTicket(ctx context.Context, ticketID string, now time.Time) (*models.ExecutionRecord, error) {
	if now.IsZero() {
		now = s.now()
	}

	passID := newPassID()

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "sweeper.sweep_ticket",
		attribute.String(otelhelper.TicketIDKey, ticketID),
		attribute.String(otelhelper.SweepPassIDKey, passID),
	)
	defer span.End()

	ticket, err := s.persistence.TicketRepository().Snapshot(ctx, ticketID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if ticket.WorkflowID == "" {
		return nil, nil
	}

	definition, err := s.persistence.DefinitionRepository().GetByID(ctx, ticket.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !definition.IsActive {
		return nil, nil
	}

	transition := s.firstApplicable(ticket, definition, now)
	if transition == nil {
		return nil, nil
	}

	claimed, err := s.ledger.Claim(ctx, passID, ticketID)
	if err != nil || !claimed {
		return nil, err
	}

	record, err := s.executor.Execute(ctx, engine.ExecuteRequest{
		TicketID:     ticketID,
		TransitionID: transition.ID,
		Invoker:      models.SystemInvoker,
		Now:          now,
		SweepPassID:  passID,
	})
	if err != nil {
		if engine.IsRequestError(err) {
			return nil, nil
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	return record, nil
}

// HandleTicketChanged is an event handler for ticket.changed events.
func (s *Sweeper) HandleTicketChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.TicketChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	record, err := s.SweepTicket(ctx, changed.TicketID, time.Time{})
	if err != nil {
		s.logger.ErrorContext(ctx, "automatic transition after ticket change failed", "ticket_id", changed.TicketID, "error", err)

		return err
	}

	if record != nil {
		s.logger.InfoContext(ctx, "automatic transition after ticket change",
			"ticket_id", changed.TicketID,
			"transition_id", record.TransitionID,
			"to_status", record.ToStatus,
		)
	}

	return nil
}

// firstApplicable returns the first automatic transition in stored order
// whose combined condition holds, or nil.
func (s *Sweeper) firstApplicable(ticket *models.TicketSnapshot, definition *models.WorkflowDefinition, now time.Time) *models.Transition {
	if definition.IsFinal(ticket.Status) {
		return nil
	}

	for _, t := range definition.AutomaticTransitions() {
		if t.FromStatus != ticket.Status {
			continue
		}

		if s.resolver.Allows(ticket, definition, t, now) {
			return t
		}
	}

	return nil
}

func (s *Sweeper) completed(ctx context.Context, report *PassReport) {
	if s.publisher == nil {
		return
	}

	event := events.SweepCompleted{
		BaseEvent: events.NewBaseEvent(events.SweepCompletedEvent, ""),
		PassID:    report.PassID,
		Examined:  report.Examined,
		Executed:  report.Executed,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
		Duration:  report.Duration,
	}

	if err := s.publisher.Publish(ctx, report.PassID, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish sweep event", "pass_id", report.PassID, "error", err)
	}
}

// automaticFromStatuses lists the non-final from statuses of the
// definition's automatic transitions.
func automaticFromStatuses(definition *models.WorkflowDefinition) []string {
	statuses := make([]string, 0)

	for _, t := range definition.AutomaticTransitions() {
		if definition.IsFinal(t.FromStatus) || slices.Contains(statuses, t.FromStatus) {
			continue
		}

		statuses = append(statuses, t.FromStatus)
	}

	return statuses
}

// PassID returns the pass key a sweep started at now claims tickets under.
func (s *Sweeper) PassID(now time.Time) string {
	if s.passWindow <= 0 {
		return newPassID()
	}

	return "tick-" + now.UTC().Truncate(s.passWindow).Format(passTimeLayout)
}

const passTimeLayout = "20060102T150405Z"

func newPassID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
