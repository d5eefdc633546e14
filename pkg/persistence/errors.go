// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"

	"github.com/dukex/ticketflow/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a definition was not found by the given identifier.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrTransitionNotFound indicates no definition owns the given transition.
	ErrTransitionNotFound = errors.New("transition not found")

	// ErrTicketNotFound indicates a ticket was not found by the given identifier.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrDefinitionInUse indicates a definition still governs tickets in non-final states.
	ErrDefinitionInUse = errors.New("workflow definition in use")

	// ErrDefinitionInactive indicates a ticket cannot be bound to an inactive definition.
	ErrDefinitionInactive = errors.New("workflow definition is inactive")

	// ErrDuplicateName indicates the tenant already owns a definition with the same name.
	ErrDuplicateName = errors.New("workflow definition name already exists")

	// ErrConflict indicates an optimistic status check failed.
	ErrConflict = errors.New("ticket status changed concurrently")

	// ErrProtectedField indicates a field that cannot be written through field updates.
	ErrProtectedField = models.ErrProtectedField

	// ErrCommitFailed indicates the unit of work could not be committed.
	ErrCommitFailed = errors.New("unit of work commit failed")

	// ErrInvalidSortField indicates an invalid sort field was provided.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op           string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	DefinitionID string
	Err          error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, definitionID string, err error) *DefinitionError {
	return &DefinitionError{
		Op:           op,
		DefinitionID: definitionID,
		Err:          err,
	}
}

// TicketError wraps ticket-related errors with additional context.
type TicketError struct {
	Op       string
	TicketID string
	Err      error
}

func (e *TicketError) Error() string {
	return fmt.Sprintf("%s operation failed for ticket %s: %v", e.Op, e.TicketID, e.Err)
}

func (e *TicketError) Unwrap() error {
	return e.Err
}

// NewTicketError creates a new ticket error with context.
func NewTicketError(op, ticketID string, err error) *TicketError {
	return &TicketError{
		Op:       op,
		TicketID: ticketID,
		Err:      err,
	}
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsTicketNotFound checks if an error indicates a ticket was not found.
func IsTicketNotFound(err error) bool {
	return errors.Is(err, ErrTicketNotFound)
}

// IsNotFound checks for any of the not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrTransitionNotFound)
}

// IsConflict checks if an error indicates an optimistic status check failed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidSortField checks if an error indicates an invalid sort field.
func IsInvalidSortField(err error) bool {
	return errors.Is(err, ErrInvalidSortField)
}
