package engine

import (
	"errors"
	"fmt"
)

// Request errors. The operation was refused and nothing changed.
var (
	ErrNotFound         = errors.New("ticket or transition not found")
	ErrWorkflowMismatch = errors.New("transition does not belong to the ticket's workflow")
	ErrInvalidFromState = errors.New("ticket status does not match the transition's from status")
	ErrForbidden        = errors.New("invoker role does not meet the transition's required role")
	ErrConditionNotMet  = errors.New("transition condition not met")
)

// ErrExecutionFailed indicates the atomic unit of a transition could not
// commit. The ticket is unchanged and no record was written.
var ErrExecutionFailed = errors.New("transition execution failed")

// TransitionError carries the ticket and transition a failure refers to.
// Err is one of the sentinel errors of this package; Cause is the
// underlying failure, if any.
type TransitionError struct {
	Op           string
	TicketID     string
	TransitionID string
	Err          error
	Cause        error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s transition %s on ticket %s: %v", e.Op, e.TransitionID, e.TicketID, e.Err)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *TransitionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}

	return []error{e.Err, e.Cause}
}

// IsRequestError reports whether err rejected a request without side effects.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWorkflowMismatch) ||
		errors.Is(err, ErrInvalidFromState) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConditionNotMet)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrWorkflowMismatch):
		return "workflow_mismatch"
	case errors.Is(err, ErrInvalidFromState):
		return "invalid_from_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConditionNotMet):
		return "condition_not_met"
	case errors.Is(err, ErrExecutionFailed):
		return "execution_failed"
	default:
		return "internal"
	}
}

// UserMessage returns the message shown to an operator whose manual
// transition attempt failed.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "This ticket or transition no longer exists. Refresh the view and try again."
	case errors.Is(err, ErrWorkflowMismatch):
		return "This transition belongs to a different workflow than the ticket. Refresh the view to load the ticket's current workflow."
	case errors.Is(err, ErrInvalidFromState):
		return "This ticket's status has changed since you loaded this view. Refresh and retry."
	case errors.Is(err, ErrForbidden):
		return "You do not have the role required for this transition. Ask a supervisor to perform it."
	case errors.Is(err, ErrConditionNotMet):
		return "The ticket no longer meets the conditions for this transition. Refresh to see the transitions available now."
	case errors.Is(err, ErrExecutionFailed):
		return "The transition could not be saved and nothing was changed. Please retry."
	default:
		return "Something went wrong while executing the transition."
	}
}
