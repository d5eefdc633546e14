package services

import (
	"context"
	"time"

	"github.com/dukex/ticketflow/pkg/actions"
	"github.com/dukex/ticketflow/pkg/condition"
	"github.com/dukex/ticketflow/pkg/models"
)

// Preview runs conditions and actions against synthetic tickets without
// touching stored ones.
type Preview struct {
	evaluator *condition.Evaluator
	actions   *actions.Executor
	options
}

func NewPreview(evaluator *condition.Evaluator, actionExecutor *actions.Executor, opts ...Option) *Preview {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Preview{
		evaluator: evaluator,
		actions:   actionExecutor,
		options:   o,
	}
}

// ConditionPreviewRequest evaluates Condition AND GlobalCondition against
// Ticket at Now. A zero Now means the current time.
type ConditionPreviewRequest struct {
	Condition       models.ConditionSpec
	GlobalCondition models.ConditionSpec
	Ticket          models.TicketSnapshot
	Now             time.Time
}

type ConditionPreview struct {
	Result          bool      `json:"result"`
	ConditionResult bool      `json:"condition_result"`
	GlobalResult    bool      `json:"global_result"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

// PreviewConditions validates the trees as a save would, then evaluates them.
func (p *Preview) PreviewConditions(_ context.Context, req ConditionPreviewRequest) (*ConditionPreview, error) {
	for _, spec := range []models.ConditionSpec{req.Condition, req.GlobalCondition} {
		if err := condition.Validate(spec.Condition, p.maxDepth); err != nil {
			return nil, NewValidationError("PreviewConditions", "MALFORMED_CONDITION", err.Error(), err)
		}
	}

	now := req.Now
	if now.IsZero() {
		now = p.now()
	}

	conditionResult := p.evaluator.Evaluate(req.Condition.Condition, &req.Ticket, now)
	globalResult := p.evaluator.Evaluate(req.GlobalCondition.Condition, &req.Ticket, now)

	return &ConditionPreview{
		Result:          conditionResult && globalResult,
		ConditionResult: conditionResult,
		GlobalResult:    globalResult,
		EvaluatedAt:     now,
	}, nil
}

// ActionPreviewRequest applies Actions to a copy of Ticket. AutoAssignRules
// stand in for the owning definition's rules.
type ActionPreviewRequest struct {
	Actions         models.ActionList
	Ticket          models.TicketSnapshot
	AutoAssignRules *models.AutoAssignRules
	Now             time.Time
}

// PreviewActions reports what the actions would do. Notifications are
// described, never sent.
func (p *Preview) PreviewActions(ctx context.Context, req ActionPreviewRequest) (*actions.PreviewResult, error) {
	for _, action := range req.Actions {
		if err := models.ValidateAction(action); err != nil {
			return nil, NewValidationError("PreviewActions", "MALFORMED_ACTION", err.Error(), err)
		}
	}

	now := req.Now
	if now.IsZero() {
		now = p.now()
	}

	var definition *models.WorkflowDefinition
	if req.AutoAssignRules != nil {
		definition = &models.WorkflowDefinition{AutoAssignRules: req.AutoAssignRules}
	}

	return p.actions.Preview(ctx, req.Actions, &req.Ticket, definition, now), nil
}
