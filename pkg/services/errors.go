// Package services implements the operator-facing use cases on top of the
// engine and the persistence port.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/ticketflow/pkg/document"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidSortField  = errors.New("invalid sort field")
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrDefinitionNil     = errors.New("workflow definition cannot be nil")
	ErrAutomaticSelfLoop = errors.New("automatic transition cannot loop on its own status")

	// Not Found (404).
	ErrDefinitionNotFound = persistence.ErrDefinitionNotFound
	ErrTicketNotFound     = persistence.ErrTicketNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrDefinitionInUse    = persistence.ErrDefinitionInUse
	ErrDuplicateName      = persistence.ErrDuplicateName
	ErrDefinitionInactive = persistence.ErrDefinitionInactive
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, ErrAutomaticSelfLoop) ||
		errors.Is(err, models.ErrMalformedCondition) ||
		errors.Is(err, models.ErrMalformedAction) ||
		errors.Is(err, document.ErrInvalidDocument)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDefinitionInUse) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrDefinitionInactive)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
