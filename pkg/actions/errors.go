package actions

import (
	"context"
	"errors"

	"github.com/dukex/ticketflow/pkg/models"
)

var (
	// ErrRecoverable marks a failure that leaves the ticket consistent.
	// Wrap it to have any action classified as a recoverable failure.
	ErrRecoverable = errors.New("recoverable action failure")

	// ErrNoAssignee indicates an assignment action could resolve no target.
	ErrNoAssignee = errors.New("no assignee could be resolved")

	// ErrNoNotifier indicates a notification action ran without a notifier.
	ErrNoNotifier = errors.New("no notifier configured")

	// ErrUnsupportedAction indicates an action kind this executor does not know.
	ErrUnsupportedAction = errors.New("unsupported action")
)

// Classify maps an action failure to its result status. Notification actions
// never fail fatally.
func Classify(action models.Action, err error) models.ActionStatus {
	switch {
	case err == nil:
		return models.ActionStatusSuccess
	case models.IsNotification(action),
		errors.Is(err, ErrRecoverable),
		errors.Is(err, context.DeadlineExceeded):
		return models.ActionStatusRecoverableFailure
	default:
		return models.ActionStatusFatalFailure
	}
}
