package models

import "time"

// ExecutionOutcome summarises a committed transition.
type ExecutionOutcome string

const (
	OutcomeSuccess              ExecutionOutcome = "success"
	OutcomePartialActionFailure ExecutionOutcome = "partial_action_failure"
)

// ActionStatus is the per-action result of an execution.
type ActionStatus string

const (
	ActionStatusSuccess            ActionStatus = "success"
	ActionStatusRecoverableFailure ActionStatus = "recoverable_failure"
	ActionStatusFatalFailure       ActionStatus = "fatal_failure"
	ActionStatusSkipped            ActionStatus = "skipped"
)

// ActionResult records what happened to one action of a transition.
type ActionResult struct {
	Index  int          `json:"index"`
	Type   ActionType   `json:"type"`
	Status ActionStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Failed reports whether the action did not complete.
func (r ActionResult) Failed() bool {
	return r.Status != ActionStatusSuccess
}

// ExecutionRecord is the audit entry written for every committed transition.
type ExecutionRecord struct {
	ID             string           `json:"id"`
	TicketID       string           `json:"ticket_id"`
	WorkflowID     string           `json:"workflow_id"`
	TransitionID   string           `json:"transition_id"`
	FromStatus     string           `json:"from_status"`
	ToStatus       string           `json:"to_status"`
	ExecutedBy     string           `json:"executed_by"`
	Automatic      bool             `json:"automatic"`
	SweepPassID    string           `json:"sweep_pass_id,omitempty"`
	ExecutedAt     time.Time        `json:"executed_at"`
	ActionsApplied []ActionResult   `json:"actions_applied"`
	Outcome        ExecutionOutcome `json:"outcome"`
}

// FailedActions returns the results of actions that did not succeed.
func (r *ExecutionRecord) FailedActions() []ActionResult {
	failed := make([]ActionResult, 0)

	for _, result := range r.ActionsApplied {
		if result.Failed() {
			failed = append(failed, result)
		}
	}

	return failed
}

// OutcomeOf derives the execution outcome from per-action results.
func OutcomeOf(results []ActionResult) ExecutionOutcome {
	for _, r := range results {
		if r.Failed() {
			return OutcomePartialActionFailure
		}
	}

	return OutcomeSuccess
}
