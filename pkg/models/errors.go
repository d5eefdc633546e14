package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedCondition indicates a condition tree that cannot be decoded or exceeds limits.
	ErrMalformedCondition = errors.New("malformed condition")

	// ErrMalformedAction indicates an action that cannot be decoded.
	ErrMalformedAction = errors.New("malformed action")

	// ErrProtectedField indicates a field that cannot be written through field updates.
	ErrProtectedField = errors.New("field cannot be updated")
)

func malformedCondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedCondition, fmt.Sprintf(format, args...))
}

func malformedAction(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedAction, fmt.Sprintf(format, args...))
}
