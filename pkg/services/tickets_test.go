package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/ticketflow/pkg/actions"
	"github.com/dukex/ticketflow/pkg/condition"
	"github.com/dukex/ticketflow/pkg/engine"
	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/mocks"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence/memory"
)

type ticketsFixture struct {
	tickets     *Tickets
	definitions *Definitions
	definition  *models.WorkflowDefinition
	bus         *mocks.MockEventBus
}

func newTicketsFixture(t *testing.T) *ticketsFixture {
	t.Helper()

	store := memory.NewPersistence(memory.WithClock(func() time.Time { return now }))
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	roles := &mocks.MockRoleResolver{}
	roles.On("RoleOf", mock.Anything, mock.Anything).Return(models.RoleAgent, nil)

	resolver := engine.NewResolver(condition.NewEvaluator(nil))
	executor := engine.NewExecutor(store, resolver, actions.NewExecutor(nil, nil), roles)

	clock := WithClock(func() time.Time { return now })

	f := &ticketsFixture{
		tickets:     NewTickets(store, resolver, executor, WithPublisher(bus), clock),
		definitions: NewDefinitions(store, clock),
		bus:         bus,
	}

	definition := supportDefinition()
	definition.Transitions = append(definition.Transitions, &models.Transition{
		Name:       "fast-track",
		FromStatus: "open",
		ToStatus:   "closed",
		Condition:  models.ConditionSpec{Condition: models.FieldEquals{Field: "category", Value: "spam"}},
	})

	created, err := f.definitions.Create(context.Background(), definition)
	require.NoError(t, err)

	f.definition = created

	return f
}

func TestTickets_BindAndExecute(t *testing.T) {
	f := newTicketsFixture(t)
	ctx := context.Background()

	ticket, err := f.tickets.Create(ctx, &models.TicketSnapshot{CustomFields: map[string]any{"category": "billing"}})
	require.NoError(t, err)
	require.NotEmpty(t, ticket.ID)

	available, err := f.tickets.Available(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, available, "unbound tickets have no transitions")

	bound, err := f.tickets.Bind(ctx, ticket.ID, f.definition.ID)
	require.NoError(t, err)
	assert.Equal(t, "open", bound.Status)
	assert.Equal(t, f.definition.ID, bound.WorkflowID)

	available, err = f.tickets.Available(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "start", available[0].Name)

	record, err := f.tickets.Execute(ctx, ticket.ID, available[0].ID, models.Invoker{ID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, "in_progress", record.ToStatus)

	history, err := f.tickets.Executions(ctx, ticket.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, record.ID, history[0].ID)
}

func TestTickets_BindInactiveDefinition(t *testing.T) {
	f := newTicketsFixture(t)
	ctx := context.Background()

	_, err := f.definitions.SetActive(ctx, f.definition.ID, false)
	require.NoError(t, err)

	ticket, err := f.tickets.Create(ctx, &models.TicketSnapshot{})
	require.NoError(t, err)

	_, err = f.tickets.Bind(ctx, ticket.ID, f.definition.ID)
	require.ErrorIs(t, err, ErrDefinitionInactive)
	assert.True(t, IsConflictError(err))
}

func TestTickets_ExecuteRequiresOperator(t *testing.T) {
	tests := []struct {
		name    string
		invoker models.Invoker
	}{
		{name: "system invoker", invoker: models.SystemInvoker},
		{name: "reserved system id", invoker: models.Invoker{ID: models.SystemInvoker.ID}},
		{name: "anonymous", invoker: models.Invoker{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTicketsFixture(t)

			_, err := f.tickets.Execute(context.Background(), "T", "tr", tt.invoker)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestTickets_UpdateFieldsAnnouncesChange(t *testing.T) {
	f := newTicketsFixture(t)
	ctx := context.Background()

	ticket, err := f.tickets.Create(ctx, &models.TicketSnapshot{})
	require.NoError(t, err)

	_, err = f.tickets.Bind(ctx, ticket.ID, f.definition.ID)
	require.NoError(t, err)

	updated, err := f.tickets.UpdateFields(ctx, ticket.ID, map[string]any{"category": "spam"})
	require.NoError(t, err)
	assert.Equal(t, "spam", updated.CustomFields["category"])

	available, err := f.tickets.Available(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, "fast-track", available[1].Name)

	f.bus.AssertCalled(t, "Publish", mock.Anything, ticket.ID, mock.MatchedBy(func(e events.TicketChanged) bool {
		return len(e.Fields) == 1 && e.Fields[0] == "category"
	}))

	_, err = f.tickets.UpdateFields(ctx, ticket.ID, map[string]any{"status": "closed"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.tickets.UpdateFields(ctx, "missing", map[string]any{"category": "x"})
	require.ErrorIs(t, err, ErrTicketNotFound)
}
