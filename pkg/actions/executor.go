// Package actions applies transition action lists to tickets.
package actions

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/otelhelper"
	"github.com/dukex/ticketflow/pkg/protocol"
)

// DefaultNotificationTimeout bounds a single notification call.
const DefaultNotificationTimeout = 5 * time.Second

// Unit is the slice of a unit of work the executor writes through. Every
// action runs in its own savepoint so a failing action leaves no partial
// writes behind.
type Unit interface {
	Tickets() protocol.TicketStore
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// ActionContext carries what an action may need besides the ticket id.
type ActionContext struct {
	TicketID   string
	Definition *models.WorkflowDefinition
	Transition *models.Transition
	Snapshot   *models.TicketSnapshot
	Invoker    models.Invoker
	Now        time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithNotificationTimeout overrides DefaultNotificationTimeout.
func WithNotificationTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.notificationTimeout = d
		}
	}
}

// WithTracer sets the tracer used for apply spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// Executor applies action lists in order.
type Executor struct {
	notifier            protocol.Notifier
	logger              *slog.Logger
	tracer              trace.Tracer
	notificationTimeout time.Duration
}

// NewExecutor creates an executor. notifier may be nil, in which case
// notification actions fail recoverably.
func NewExecutor(notifier protocol.Notifier, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		notifier:            notifier,
		logger:              logger,
		tracer:              otel.Tracer("ticketflow/actions"),
		notificationTimeout: DefaultNotificationTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Apply runs list against the ticket and returns one result per action in
// list order. A fatal failure stops the run and the remaining actions are
// reported as skipped. Apply never returns an error: failures are data.
func (e *Executor) Apply(ctx context.Context, unit Unit, list models.ActionList, actx ActionContext) []models.ActionResult {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "actions.apply",
		attribute.String(otelhelper.TicketIDKey, actx.TicketID),
		attribute.Int(otelhelper.ActionCountKey, len(list)),
	)
	defer span.End()

	results := make([]models.ActionResult, 0, len(list))
	stopped := false

	for i, action := range list {
		result := models.ActionResult{Index: i, Type: action.Type()}

		if stopped {
			result.Status = models.ActionStatusSkipped
			results = append(results, result)

			continue
		}

		err := unit.Savepoint(ctx, func(ctx context.Context) error {
			return e.applyOne(ctx, unit.Tickets(), action, actx)
		})

		result.Status = Classify(action, err)

		if err != nil {
			result.Error = err.Error()

			e.logger.WarnContext(ctx, "action failed",
				"ticket_id", actx.TicketID,
				"action_index", i,
				"action_type", action.Type(),
				"status", result.Status,
				"error", err,
			)
		}

		if result.Status == models.ActionStatusFatalFailure {
			stopped = true

			otelhelper.SetError(span, err,
				attribute.String(otelhelper.ActionTypeKey, string(action.Type())),
				attribute.Int(otelhelper.ActionIndexKey, i),
			)
		}

		results = append(results, result)
	}

	return results
}

func (e *Executor) applyOne(ctx context.Context, w protocol.TicketWriter, action models.Action, actx ActionContext) error {
	id := actx.TicketID

	switch a := action.(type) {
	case models.AssignToUser:
		userID := a.UserID
		if userID == "" {
			userID = pickFromPool(autoAssign(actx).UserPool, id)
		}

		if userID == "" {
			return ErrNoAssignee
		}

		return w.Assign(ctx, id, models.Assignee{UserID: userID})

	case models.AssignToTeam:
		teamID := a.TeamID
		if teamID == "" {
			teamID = autoAssign(actx).DefaultTeamID
		}

		if teamID == "" {
			return ErrNoAssignee
		}

		return w.Assign(ctx, id, models.Assignee{TeamID: teamID})

	case models.SetPriority:
		return w.SetPriority(ctx, id, a.Priority)

	case models.AddTag:
		return w.AddTag(ctx, id, a.Tag)

	case models.RemoveTag:
		return w.RemoveTag(ctx, id, a.Tag)

	case models.UpdateField:
		return w.ApplyFieldUpdate(ctx, id, a.Field, a.Value)

	case models.AddNote:
		return w.AppendNote(ctx, id, a.Text)

	case models.CreateTask:
		return w.CreateTask(ctx, id, a.Task)

	case models.ScheduleFollowup:
		return w.ScheduleFollowup(ctx, id, actx.Now.Add(a.After))

	case models.Escalate:
		return w.Escalate(ctx, id, a.Reason)

	case models.SendEmail:
		return e.notify(ctx, func(ctx context.Context) error {
			return e.notifier.SendEmail(ctx, a.Template, a.Recipients, templateData(actx))
		})

	case models.NotifyClient:
		return e.notify(ctx, func(ctx context.Context) error {
			return e.notifier.NotifyClient(ctx, id, a.Template)
		})

	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedAction, action)
	}
}

func (e *Executor) notify(ctx context.Context, send func(ctx context.Context) error) error {
	if e.notifier == nil {
		return ErrNoNotifier
	}

	ctx, cancel := context.WithTimeout(ctx, e.notificationTimeout)
	defer cancel()

	return send(ctx)
}

func autoAssign(actx ActionContext) models.AutoAssignRules {
	if actx.Definition == nil || actx.Definition.AutoAssignRules == nil {
		return models.AutoAssignRules{}
	}

	return *actx.Definition.AutoAssignRules
}

// pickFromPool chooses a pool member by a stable hash of the ticket id, so
// the same ticket always lands on the same user for a given pool.
func pickFromPool(pool []string, ticketID string) string {
	if len(pool) == 0 {
		return ""
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(ticketID))

	return pool[h.Sum32()%uint32(len(pool))]
}

func templateData(actx ActionContext) map[string]any {
	data := map[string]any{
		"ticket_id": actx.TicketID,
	}

	if actx.Transition != nil {
		data["transition"] = actx.Transition.Name
		data["from_status"] = actx.Transition.FromStatus
		data["to_status"] = actx.Transition.ToStatus
	}

	if actx.Definition != nil {
		data["workflow"] = actx.Definition.Name
	}

	if actx.Snapshot != nil {
		data["priority"] = actx.Snapshot.Priority
		data["assigned_to"] = actx.Snapshot.AssignedTo
	}

	return data
}
