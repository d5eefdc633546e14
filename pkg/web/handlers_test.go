package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/ticketflow/pkg/actions"
	"github.com/dukex/ticketflow/pkg/condition"
	"github.com/dukex/ticketflow/pkg/engine"
	"github.com/dukex/ticketflow/pkg/identity"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/notify"
	"github.com/dukex/ticketflow/pkg/persistence/memory"
	"github.com/dukex/ticketflow/pkg/services"
	"github.com/dukex/ticketflow/pkg/web"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := memory.NewPersistence()

	roles, err := identity.NewStaticRoles(map[string]models.Role{
		"alice": models.RoleAgent,
		"boss":  models.RoleSupervisor,
	}, "")
	require.NoError(t, err)

	evaluator := condition.NewEvaluator(nil)
	resolver := engine.NewResolver(evaluator)
	actionExecutor := actions.NewExecutor(notify.NewLogNotifier(logger), logger)
	executor := engine.NewExecutor(store, resolver, actionExecutor, roles, engine.WithLogger(logger))

	handlers := web.NewAPIHandlers(
		services.NewDefinitions(store, services.WithLogger(logger)),
		services.NewTickets(store, resolver, executor, services.WithLogger(logger)),
		services.NewPreview(evaluator, actionExecutor),
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	)

	app := fiber.New()
	handlers.Register(app)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, data
}

func supportWorkflow() map[string]any {
	return map[string]any{
		"tenant_id":      "acme",
		"name":           "Support",
		"initial_status": "open",
		"final_statuses": []string{"closed"},
		"is_active":      true,
		"transitions": []map[string]any{
			{
				"name":        "start",
				"from_status": "open",
				"to_status":   "in_progress",
				"actions":     []map[string]any{{"type": "add_tag", "tag": "working"}},
			},
			{
				"name":          "close",
				"from_status":   "in_progress",
				"to_status":     "closed",
				"required_role": "supervisor",
			},
			{
				"name":        "discard",
				"from_status": "open",
				"to_status":   "closed",
				"condition":   map[string]any{"type": "field_equals", "field": "category", "value": "spam"},
			},
		},
	}
}

func createWorkflow(t *testing.T, app *fiber.App) models.WorkflowDefinition {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/workflows", supportWorkflow())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &definition))

	return definition
}

func transitionID(t *testing.T, definition models.WorkflowDefinition, name string) string {
	t.Helper()

	for _, tr := range definition.Transitions {
		if tr.Name == name {
			return tr.ID
		}
	}

	t.Fatalf("transition %q not found", name)

	return ""
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(body, &problem))

	return problem.Type
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	withoutName := supportWorkflow()
	delete(withoutName, "name")

	badRole := supportWorkflow()
	badRole["transitions"] = []map[string]any{
		{"name": "start", "from_status": "open", "to_status": "done", "required_role": "owner"},
	}

	badCondition := supportWorkflow()
	badCondition["global_conditions"] = map[string]any{"type": "sometimes"}

	deepCondition := supportWorkflow()
	nested := map[string]any{"type": "has_tag", "tag": "vip"}
	for range 2_000 {
		nested = map[string]any{"type": "not", "condition": nested}
	}
	deepCondition["global_conditions"] = nested

	selfLoop := supportWorkflow()
	selfLoop["transitions"] = []map[string]any{
		{"name": "spin", "from_status": "open", "to_status": "open", "is_automatic": true},
	}

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{"valid workflow", supportWorkflow(), http.StatusCreated},
		{"missing name", withoutName, http.StatusBadRequest},
		{"unknown role", badRole, http.StatusBadRequest},
		{"unknown condition type", badCondition, http.StatusBadRequest},
		{"condition nested too deep", deepCondition, http.StatusBadRequest},
		{"automatic self loop", selfLoop, http.StatusBadRequest},
		{"invalid json", `{"name":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			resp, body := doJSON(t, app, http.MethodPost, "/workflows", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app)
	assert.Len(t, created.Transitions, 3)

	resp, body := doJSON(t, app, http.MethodGet, "/workflows?tenant_id=acme&active=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Workflows  []models.WorkflowDefinition `json:"workflows"`
		TotalCount int64                       `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, int64(1), listed.TotalCount)

	resp, _ = doJSON(t, app, http.MethodGet, "/workflows?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/workflows?sort_by=drop", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows", supportWorkflow())
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "names are unique per tenant")

	resp, body = doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/duplicate", map[string]any{"name": "Support v2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var duplicate models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &duplicate))
	assert.Equal(t, "Support v2", duplicate.Name)
	assert.False(t, duplicate.IsActive)
	assert.NotEqual(t, created.Transitions[0].ID, duplicate.Transitions[0].ID)

	resp, exported := doJSON(t, app, http.MethodGet, "/workflows/"+created.ID+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/import", string(exported))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "tenant_id is required")

	resp, body = doJSON(t, app, http.MethodPost, "/workflows/import?tenant_id=globex", string(exported))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var imported models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &imported))
	assert.Equal(t, "globex", imported.TenantID)
	assert.False(t, imported.IsActive)
	assert.Len(t, imported.Transitions, 3)

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/import?tenant_id=globex", `{"format":"other"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/workflows/"+imported.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"is_active":true`)

	update := supportWorkflow()
	update["transitions"] = []map[string]any{
		{"id": transitionID(t, created, "start"), "name": "begin", "from_status": "open", "to_status": "in_progress"},
	}

	resp, body = doJSON(t, app, http.MethodPut, "/workflows/"+created.ID, update)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var updated models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &updated))
	require.Len(t, updated.Transitions, 1)
	assert.Equal(t, transitionID(t, created, "start"), updated.Transitions[0].ID)
	assert.Equal(t, "begin", updated.Transitions[0].Name)

	resp, _ = doJSON(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", problemType(t, body))
}

func TestAPIHandlers_TicketTransitions(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createWorkflow(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/tickets", map[string]any{
		"id":            "T-1",
		"workflow_id":   definition.ID,
		"custom_fields": map[string]any{"category": "billing"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"open"`)

	resp, body = doJSON(t, app, http.MethodGet, "/tickets/T-1/transitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var available struct {
		Transitions []web.TransitionResponse `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(body, &available))
	require.Len(t, available.Transitions, 1)
	assert.Equal(t, "start", available.Transitions[0].Name)

	start := transitionID(t, definition, "start")
	closeID := transitionID(t, definition, "close")
	discard := transitionID(t, definition, "discard")

	tests := []struct {
		name           string
		transitionID   string
		invoker        string
		expectedStatus int
		expectedType   string
	}{
		{"missing invoker", start, "", http.StatusBadRequest, "validation_error"},
		{"reserved system invoker", start, "system", http.StatusBadRequest, "validation_error"},
		{"condition not met", discard, "alice", http.StatusUnprocessableEntity, "condition_not_met"},
		{"wrong from status", closeID, "alice", http.StatusConflict, "invalid_from_state"},
		{"unknown transition", "nope", "alice", http.StatusNotFound, "not_found"},
		{"start work", start, "alice", http.StatusOK, ""},
		{"agent cannot close", closeID, "alice", http.StatusForbidden, "forbidden"},
		{"unknown invoker", closeID, "mallory", http.StatusForbidden, "forbidden"},
		{"supervisor closes", closeID, "boss", http.StatusOK, ""},
	}

	// Cases run in order against the same ticket.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.invoker != "" {
				headers = []string{web.InvokerHeader, tt.invoker}
			}

			resp, body := doJSON(t, app, http.MethodPost, "/tickets/T-1/transitions/"+tt.transitionID, nil, headers...)
			require.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, problemType(t, body))
			}
		})
	}

	resp, body = doJSON(t, app, http.MethodGet, "/tickets/T-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ticket models.TicketSnapshot
	require.NoError(t, json.Unmarshal(body, &ticket))
	assert.Equal(t, "closed", ticket.Status)
	assert.Contains(t, ticket.Tags, "working")

	resp, body = doJSON(t, app, http.MethodGet, "/tickets/T-1/executions?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		Executions []models.ExecutionRecord `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history.Executions, 1)
	assert.Equal(t, "boss", history.Executions[0].ExecutedBy)

	resp, _ = doJSON(t, app, http.MethodGet, "/tickets/T-1/executions?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/tickets/T-404/transitions", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_UpdateFieldsAndBind(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createWorkflow(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/tickets", map[string]any{"id": "T-2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, _ = doJSON(t, app, http.MethodPost, "/tickets/T-2/bind", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/tickets/T-2/bind", map[string]any{"workflow_id": definition.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, app, http.MethodPatch, "/tickets/T-2/fields", map[string]any{
		"fields": map[string]any{"category": "spam"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, app, http.MethodGet, "/tickets/T-2/transitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"discard"`)

	resp, _ = doJSON(t, app, http.MethodPatch, "/tickets/T-2/fields", map[string]any{"fields": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/workflows/"+definition.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a ticket is still open")

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/"+definition.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/tickets", map[string]any{"id": "T-3", "workflow_id": definition.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "inactive definitions take no new tickets")
}

func TestAPIHandlers_Preview(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	tests := []struct {
		name           string
		path           string
		body           any
		expectedStatus int
		expected       string
	}{
		{
			name: "condition holds",
			path: "/preview/conditions",
			body: map[string]any{
				"condition": map[string]any{"type": "has_tag", "tag": "vip"},
				"ticket":    map[string]any{"id": "T-1", "status": "open", "tags": []string{"vip"}},
			},
			expectedStatus: http.StatusOK,
			expected:       `"result":true`,
		},
		{
			name: "global condition fails",
			path: "/preview/conditions",
			body: map[string]any{
				"global_condition": map[string]any{"type": "assigned_to", "user_id": "u-1"},
				"ticket":           map[string]any{"id": "T-1", "status": "open"},
			},
			expectedStatus: http.StatusOK,
			expected:       `"global_result":false`,
		},
		{
			name: "malformed condition",
			path: "/preview/conditions",
			body: map[string]any{
				"condition": map[string]any{"type": "not"},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "actions describe effects",
			path: "/preview/actions",
			body: map[string]any{
				"actions": []map[string]any{
					{"type": "set_priority", "priority": "high"},
					{"type": "notify_client", "template": "ack"},
				},
				"ticket": map[string]any{"id": "T-1", "status": "open"},
			},
			expectedStatus: http.StatusOK,
			expected:       `"priority":"high"`,
		},
		{
			name:           "no actions",
			path:           "/preview/actions",
			body:           map[string]any{"actions": []map[string]any{}},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := doJSON(t, app, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expected != "" {
				assert.Contains(t, string(body), tt.expected)
			}
		})
	}
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "checkers")
}
