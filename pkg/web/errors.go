package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/ticketflow/pkg/engine"
	"github.com/dukex/ticketflow/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

// transitionStatus maps engine request errors to HTTP statuses.
func transitionStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, engine.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, engine.ErrConditionNotMet):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrExecutionFailed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusConflict
	}
}

// handleServiceError provides typed error handling for service layer errors.
// Transition failures carry the operator-facing message rather than the
// internal error text.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsRequestError(err), errors.Is(err, engine.ErrExecutionFailed):
		return problem(c, transitionStatus(err), engine.Code(err), engine.UserMessage(err))

	case services.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, "validation_error", err.Error())

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case services.IsNotFoundError(err):
		return problem(c, fiber.StatusNotFound, "not_found", err.Error())

	default:
		// Log unexpected errors but don't expose details
		p := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}
