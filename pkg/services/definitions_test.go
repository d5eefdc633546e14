package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/ticketflow/pkg/condition"
	"github.com/dukex/ticketflow/pkg/document"
	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/mocks"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence"
	"github.com/dukex/ticketflow/pkg/persistence/memory"
)

var now = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func supportDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:      "tenant-1",
		Name:          "Support",
		InitialStatus: "open",
		FinalStatuses: []string{"closed"},
		IsActive:      true,
		Transitions: []*models.Transition{
			{
				Name:       "start",
				FromStatus: "open",
				ToStatus:   "in_progress",
				Actions:    models.ActionList{models.AddTag{Tag: "started"}},
			},
			{
				Name:         "close",
				FromStatus:   "in_progress",
				ToStatus:     "closed",
				RequiredRole: models.RoleAgent,
			},
		},
	}
}

func newDefinitions(t *testing.T) (*Definitions, *memory.Persistence, *mocks.MockEventBus) {
	t.Helper()

	store := memory.NewPersistence(memory.WithClock(func() time.Time { return now }))
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	return NewDefinitions(store, WithPublisher(bus), WithClock(func() time.Time { return now })), store, bus
}

func TestDefinitions_Create(t *testing.T) {
	service, _, bus := newDefinitions(t)

	submitted := supportDefinition()
	submitted.ID = "client-chosen"
	submitted.Transitions[0].ID = "also-client-chosen"

	created, err := service.Create(context.Background(), submitted)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.NotEqual(t, "client-chosen", created.ID)
	assert.NotEqual(t, "also-client-chosen", created.Transitions[0].ID)
	assert.Equal(t, created.ID, created.Transitions[0].WorkflowID)

	fetched, err := service.FetchByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Support", fetched.Name)
	require.Len(t, fetched.Transitions, 2)
	assert.Equal(t, "start", fetched.Transitions[0].Name)

	bus.AssertCalled(t, "Publish", mock.Anything, created.ID, mock.MatchedBy(func(e events.DefinitionChanged) bool {
		return e.Type == events.DefinitionCreatedEvent
	}))
}

func TestDefinitions_Validate(t *testing.T) {
	deep := models.Condition(models.HasTag{Tag: "x"})
	for range condition.DefaultMaxDepth {
		deep = models.Not{Condition: deep}
	}

	tests := []struct {
		name    string
		mutate  func(*models.WorkflowDefinition)
		wantErr error
	}{
		{
			name:    "short name",
			mutate:  func(d *models.WorkflowDefinition) { d.Name = "ab" },
			wantErr: ErrInvalidDefinition,
		},
		{
			name:    "no initial status",
			mutate:  func(d *models.WorkflowDefinition) { d.InitialStatus = "" },
			wantErr: ErrInvalidDefinition,
		},
		{
			name:    "transition without target",
			mutate:  func(d *models.WorkflowDefinition) { d.Transitions[0].ToStatus = "" },
			wantErr: ErrInvalidDefinition,
		},
		{
			name:    "unknown role",
			mutate:  func(d *models.WorkflowDefinition) { d.Transitions[1].RequiredRole = "owner" },
			wantErr: ErrInvalidDefinition,
		},
		{
			name: "automatic self loop",
			mutate: func(d *models.WorkflowDefinition) {
				d.Transitions[0].IsAutomatic = true
				d.Transitions[0].ToStatus = d.Transitions[0].FromStatus
			},
			wantErr: ErrAutomaticSelfLoop,
		},
		{
			name:    "condition too deep",
			mutate:  func(d *models.WorkflowDefinition) { d.Transitions[0].Condition = models.ConditionSpec{Condition: deep} },
			wantErr: models.ErrMalformedCondition,
		},
		{
			name:    "global condition too deep",
			mutate:  func(d *models.WorkflowDefinition) { d.GlobalCondition = models.ConditionSpec{Condition: deep} },
			wantErr: models.ErrMalformedCondition,
		},
		{
			name:    "malformed action",
			mutate:  func(d *models.WorkflowDefinition) { d.Transitions[0].Actions = models.ActionList{models.AddTag{}} },
			wantErr: models.ErrMalformedAction,
		},
		{
			name:    "nil action",
			mutate:  func(d *models.WorkflowDefinition) { d.Transitions[0].Actions = models.ActionList{nil} },
			wantErr: models.ErrMalformedAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, _ := newDefinitions(t)

			definition := supportDefinition()
			tt.mutate(definition)

			_, err := service.Create(context.Background(), definition)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestDefinitions_CreateDuplicateName(t *testing.T) {
	service, _, _ := newDefinitions(t)

	_, err := service.Create(context.Background(), supportDefinition())
	require.NoError(t, err)

	_, err = service.Create(context.Background(), supportDefinition())
	require.ErrorIs(t, err, ErrDuplicateName)
	assert.True(t, IsConflictError(err))
}

func TestDefinitions_UpdateReplacesTransitionSet(t *testing.T) {
	service, _, _ := newDefinitions(t)

	created, err := service.Create(context.Background(), supportDefinition())
	require.NoError(t, err)

	keptID := created.Transitions[0].ID
	removedID := created.Transitions[1].ID

	edit := created.Clone()
	edit.Transitions = []*models.Transition{
		{ID: keptID, Name: "begin", FromStatus: "open", ToStatus: "in_progress"},
		{Name: "finish", FromStatus: "in_progress", ToStatus: "closed"},
	}

	updated, err := service.Update(context.Background(), created.ID, edit)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	fetched, err := service.FetchByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Transitions, 2)

	assert.Equal(t, keptID, fetched.Transitions[0].ID)
	assert.Equal(t, "begin", fetched.Transitions[0].Name)
	assert.NotEmpty(t, fetched.Transitions[1].ID)
	assert.Nil(t, fetched.TransitionByID(removedID))
}

func TestDefinitions_UpdateInvalidKeepsStoredVersion(t *testing.T) {
	service, _, _ := newDefinitions(t)

	created, err := service.Create(context.Background(), supportDefinition())
	require.NoError(t, err)

	edit := created.Clone()
	edit.Transitions = append(edit.Transitions, &models.Transition{Name: "broken", FromStatus: "open"})

	_, err = service.Update(context.Background(), created.ID, edit)
	require.ErrorIs(t, err, ErrInvalidDefinition)

	fetched, err := service.FetchByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, fetched.Transitions, 2)
}

func TestDefinitions_UpdateMissing(t *testing.T) {
	service, _, _ := newDefinitions(t)

	_, err := service.Update(context.Background(), "missing", supportDefinition())
	require.ErrorIs(t, err, ErrDefinitionNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestDefinitions_DeleteInUse(t *testing.T) {
	service, store, _ := newDefinitions(t)
	ctx := context.Background()

	created, err := service.Create(ctx, supportDefinition())
	require.NoError(t, err)

	require.NoError(t, store.TicketRepository().Create(ctx, &models.TicketSnapshot{ID: "T"}))
	require.NoError(t, store.TicketRepository().Bind(ctx, "T", created))

	err = service.Delete(ctx, created.ID)
	require.ErrorIs(t, err, ErrDefinitionInUse)
	assert.True(t, IsConflictError(err))

	require.NoError(t, store.Atomic(ctx, func(ctx context.Context, tx persistence.Tx) error {
		return tx.Tickets().SetStatus(ctx, "T", "closed", "open")
	}))

	require.NoError(t, service.Delete(ctx, created.ID))

	_, err = service.FetchByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestDefinitions_Duplicate(t *testing.T) {
	service, _, _ := newDefinitions(t)
	ctx := context.Background()

	created, err := service.Create(ctx, supportDefinition())
	require.NoError(t, err)

	copied, err := service.Duplicate(ctx, created.ID, "Support v2")
	require.NoError(t, err)

	assert.NotEqual(t, created.ID, copied.ID)
	assert.Equal(t, "Support v2", copied.Name)
	assert.False(t, copied.IsActive)
	require.Len(t, copied.Transitions, 2)

	for i, tr := range copied.Transitions {
		assert.NotEqual(t, created.Transitions[i].ID, tr.ID)
		assert.Equal(t, created.Transitions[i].Name, tr.Name)
		assert.Equal(t, copied.ID, tr.WorkflowID)
	}

	derived, err := service.Duplicate(ctx, created.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Support (copy)", derived.Name)
}

func TestDefinitions_ExportImportIsInactive(t *testing.T) {
	for _, active := range []bool{true, false} {
		service, _, bus := newDefinitions(t)
		ctx := context.Background()

		source := supportDefinition()
		source.IsActive = active

		created, err := service.Create(ctx, source)
		require.NoError(t, err)

		data, err := service.Export(ctx, created.ID)
		require.NoError(t, err)

		imported, err := service.Import(ctx, "", data)
		require.NoError(t, err)

		assert.False(t, imported.IsActive)
		assert.NotEqual(t, created.ID, imported.ID)
		assert.Equal(t, "Support (imported)", imported.Name)
		require.Len(t, imported.Transitions, 2)
		assert.Equal(t, created.Transitions[0].Actions, imported.Transitions[0].Actions)

		again, err := service.Import(ctx, "", data)
		require.NoError(t, err)
		assert.Equal(t, "Support (imported 2)", again.Name)

		other, err := service.Import(ctx, "tenant-2", data)
		require.NoError(t, err)
		assert.Equal(t, "Support", other.Name)
		assert.Equal(t, "tenant-2", other.TenantID)

		bus.AssertCalled(t, "Publish", mock.Anything, imported.ID, mock.MatchedBy(func(e events.DefinitionChanged) bool {
			return e.Type == events.DefinitionImportedEvent
		}))
	}
}

func TestDefinitions_ImportRejectsInvalidDocument(t *testing.T) {
	service, _, _ := newDefinitions(t)

	_, err := service.Import(context.Background(), "tenant-1", []byte(`{"format":"other"}`))
	require.ErrorIs(t, err, document.ErrInvalidDocument)
	assert.True(t, IsValidationError(err))
}

func TestDefinitions_SetActive(t *testing.T) {
	service, _, bus := newDefinitions(t)
	ctx := context.Background()

	created, err := service.Create(ctx, supportDefinition())
	require.NoError(t, err)

	deactivated, err := service.SetActive(ctx, created.ID, false)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	activated, err := service.SetActive(ctx, created.ID, true)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	bus.AssertCalled(t, "Publish", mock.Anything, created.ID, mock.MatchedBy(func(e events.DefinitionChanged) bool {
		return e.Type == events.DefinitionDeactivatedEvent
	}))
	bus.AssertCalled(t, "Publish", mock.Anything, created.ID, mock.MatchedBy(func(e events.DefinitionChanged) bool {
		return e.Type == events.DefinitionActivatedEvent
	}))
}

func TestDefinitions_List(t *testing.T) {
	service, _, _ := newDefinitions(t)
	ctx := context.Background()

	for _, name := range []string{"Billing", "Network", "Onboarding"} {
		d := supportDefinition()
		d.Name = name
		d.IsActive = name != "Network"

		_, err := service.Create(ctx, d)
		require.NoError(t, err)
	}

	active := true

	tests := []struct {
		name      string
		req       ListDefinitionsRequest
		wantNames []string
		wantNext  bool
		wantErr   error
	}{
		{
			name:      "by name",
			req:       ListDefinitionsRequest{SortBy: "name", SortOrder: "asc"},
			wantNames: []string{"Billing", "Network", "Onboarding"},
		},
		{
			name:      "active only",
			req:       ListDefinitionsRequest{Active: &active, SortBy: "name", SortOrder: "asc"},
			wantNames: []string{"Billing", "Onboarding"},
		},
		{
			name:      "paginated",
			req:       ListDefinitionsRequest{Limit: 1, SortBy: "name", SortOrder: "asc"},
			wantNames: []string{"Billing"},
			wantNext:  true,
		},
		{
			name:    "invalid sort",
			req:     ListDefinitionsRequest{SortBy: "priority"},
			wantErr: ErrInvalidSortField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.List(ctx, tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsValidationError(err))

				return
			}

			require.NoError(t, err)

			names := make([]string, 0, len(result.Definitions))
			for _, d := range result.Definitions {
				names = append(names, d.Name)
			}

			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantNext, result.HasNextPage)
		})
	}
}
