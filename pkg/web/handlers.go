// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/services"
)

// InvokerHeader carries the operator id of a transition request.
const InvokerHeader = "X-Invoker-ID"

type APIHandlers struct {
	definitions *services.Definitions
	tickets     *services.Tickets
	preview     *services.Preview
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	definitions *services.Definitions,
	tickets *services.Tickets,
	preview *services.Preview,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		tickets:     tickets,
		preview:     preview,
		validator:   validator,
		logger:      logger,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/import", h.ImportWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/duplicate", h.DuplicateWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)
	w.Get("/:id/export", h.ExportWorkflow)

	p := router.Group("/preview")
	p.Post("/conditions", h.PreviewConditions)
	p.Post("/actions", h.PreviewActions)

	t := router.Group("/tickets")
	t.Post("/", h.CreateTicket)
	t.Get("/:id", h.GetTicket)
	t.Post("/:id/bind", h.BindTicket)
	t.Patch("/:id/fields", h.UpdateTicketFields)
	t.Get("/:id/transitions", h.GetAvailableTransitions)
	t.Post("/:id/transitions/:tid", h.ExecuteTransition)
	t.Get("/:id/executions", h.GetExecutions)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.definitions.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Definitions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing definitions.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListDefinitionsRequest, error) {
	req := &services.ListDefinitionsRequest{
		TenantID:  c.Query("tenant_id"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.Active = &active
	}

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	definition, err := h.definitions.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitions.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Ticketflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Ticketflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.definitions.Create(c.Context(), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.definitions.Update(c.Context(), c.Params("id"), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.definitions.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DuplicateWorkflow(c fiber.Ctx) error {
	var req DuplicateWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	duplicate, err := h.definitions.Duplicate(c.Context(), c.Params("id"), req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(duplicate)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *APIHandlers) setActive(c fiber.Ctx, active bool) error {
	definition, err := h.definitions.SetActive(c.Context(), c.Params("id"), active)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) ExportWorkflow(c fiber.Ctx) error {
	data, err := h.definitions.Export(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="workflow-`+c.Params("id")+`.json"`)

	return c.Send(data)
}

// ImportWorkflow takes the exported document as the raw body. The owning
// tenant comes from the tenant_id query parameter.
func (h *APIHandlers) ImportWorkflow(c fiber.Ctx) error {
	tenantID := strings.TrimSpace(c.Query("tenant_id"))
	if tenantID == "" {
		return badRequest(c, "tenant_id query parameter is required")
	}

	if len(c.Body()) == 0 {
		return badRequest(c, "Request body must contain a workflow document")
	}

	imported, err := h.definitions.Import(c.Context(), tenantID, c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(imported)
}

func (h *APIHandlers) PreviewConditions(c fiber.Ctx) error {
	var req ConditionPreviewRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.preview.PreviewConditions(c.Context(), services.ConditionPreviewRequest{
		Condition:       req.Condition,
		GlobalCondition: req.GlobalCondition,
		Ticket:          req.Ticket,
		Now:             timeOrZero(req.Now),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) PreviewActions(c fiber.Ctx) error {
	var req ActionPreviewRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.preview.PreviewActions(c.Context(), services.ActionPreviewRequest{
		Actions:         req.Actions,
		Ticket:          req.Ticket,
		AutoAssignRules: req.AutoAssignRules,
		Now:             timeOrZero(req.Now),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CreateTicket(c fiber.Ctx) error {
	var req CreateTicketRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ticket, err := h.tickets.Create(c.Context(), req.Ticket())
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.WorkflowID != "" {
		ticket, err = h.tickets.Bind(c.Context(), ticket.ID, req.WorkflowID)
		if err != nil {
			return handleServiceError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(ticket)
}

func (h *APIHandlers) GetTicket(c fiber.Ctx) error {
	ticket, err := h.tickets.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ticket)
}

func (h *APIHandlers) BindTicket(c fiber.Ctx) error {
	var req BindTicketRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ticket, err := h.tickets.Bind(c.Context(), c.Params("id"), req.WorkflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ticket)
}

func (h *APIHandlers) UpdateTicketFields(c fiber.Ctx) error {
	var req UpdateFieldsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ticket, err := h.tickets.UpdateFields(c.Context(), c.Params("id"), req.Fields)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ticket)
}

func (h *APIHandlers) GetAvailableTransitions(c fiber.Ctx) error {
	transitions, err := h.tickets.Available(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"ticket_id":   c.Params("id"),
		"transitions": TransformTransitions(transitions),
	})
}

func (h *APIHandlers) ExecuteTransition(c fiber.Ctx) error {
	invoker := models.Invoker{ID: strings.TrimSpace(c.Get(InvokerHeader))}
	if invoker.ID == "" {
		return badRequest(c, InvokerHeader+" header is required")
	}

	record, err := h.tickets.Execute(c.Context(), c.Params("id"), c.Params("tid"), invoker)
	if err != nil {
		h.logger.WarnContext(c.Context(), "transition rejected",
			"ticket_id", c.Params("id"),
			"transition_id", c.Params("tid"),
			"invoker", invoker.ID,
			"error", err)

		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid query parameters: limit must be a non-negative integer")
		}

		limit = parsed
	}

	records, err := h.tickets.Executions(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"ticket_id":  c.Params("id"),
		"executions": records,
	})
}
