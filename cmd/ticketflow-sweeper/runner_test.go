package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/ticketflow/pkg/actions"
	"github.com/dukex/ticketflow/pkg/cmd"
	"github.com/dukex/ticketflow/pkg/condition"
	"github.com/dukex/ticketflow/pkg/engine"
	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence/memory"
	"github.com/dukex/ticketflow/pkg/services"
	"github.com/dukex/ticketflow/pkg/sweeper"
)

func staleDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:      "acme",
		Name:          "Stale tickets",
		InitialStatus: "pending",
		FinalStatuses: []string{"escalated"},
		IsActive:      true,
		Transitions: []*models.Transition{
			{
				Name:        "escalate",
				FromStatus:  "pending",
				ToStatus:    "escalated",
				IsAutomatic: true,
				Condition:   models.ConditionSpec{Condition: models.FieldEquals{Field: "stale", Value: true}},
				Actions:     models.ActionList{models.AddTag{Tag: "escalated"}},
			},
		},
	}
}

func newTestRunner(t *testing.T, store *memory.Persistence) *sweeper.Sweeper {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	resolver := engine.NewResolver(condition.NewEvaluator(nil))
	executor := engine.NewExecutor(store, resolver, actions.NewExecutor(nil, logger), nil, engine.WithLogger(logger))

	return sweeper.New(store, resolver, executor, sweeper.WithLogger(logger))
}

func seedTicket(t *testing.T, store *memory.Persistence, id string, fields map[string]any) {
	t.Helper()

	ctx := context.Background()

	definition, err := store.DefinitionRepository().GetByName(ctx, "acme", "Stale tickets")
	require.NoError(t, err)

	require.NoError(t, store.TicketRepository().Create(ctx, &models.TicketSnapshot{ID: id, CustomFields: fields}))
	require.NoError(t, store.TicketRepository().Bind(ctx, id, definition))
}

func TestRunner_RunOnce(t *testing.T) {
	store := memory.NewPersistence()
	require.NoError(t, store.DefinitionRepository().Save(context.Background(), staleDefinition()))

	seedTicket(t, store, "T-1", map[string]any{"stale": true})
	seedTicket(t, store, "T-2", map[string]any{"stale": false})

	runner := NewRunner(newTestRunner(t, store), nil, "@every 1h", slog.New(slog.DiscardHandler))

	report := runner.RunOnce(context.Background())
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Executed)

	ticket, err := store.TicketRepository().Snapshot(context.Background(), "T-1")
	require.NoError(t, err)
	assert.Equal(t, "escalated", ticket.Status)
	assert.Contains(t, ticket.Tags, "escalated")

	ticket, err = store.TicketRepository().Snapshot(context.Background(), "T-2")
	require.NoError(t, err)
	assert.Equal(t, "pending", ticket.Status)
}

func TestRunner_StartRejectsBadSchedule(t *testing.T) {
	store := memory.NewPersistence()
	runner := NewRunner(newTestRunner(t, store), nil, "every tuesday", slog.New(slog.DiscardHandler))

	err := runner.Start(context.Background())
	require.ErrorContains(t, err, "invalid sweep schedule")
}

func TestRunner_TicketChangedTriggersSweep(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	store := memory.NewPersistence()
	require.NoError(t, store.DefinitionRepository().Save(context.Background(), staleDefinition()))
	seedTicket(t, store, "T-1", map[string]any{"stale": true})

	bus, err := cmd.NewEventBus("gochannel", "", "test", logger)
	require.NoError(t, err)

	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	runner := NewRunner(newTestRunner(t, store), bus, "@every 1h", logger)

	go func() { done <- runner.Start(ctx) }()

	// Publish until the subscription is up; repeated events are harmless.
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, "T-1", events.TicketChanged{
			BaseEvent: events.NewBaseEvent(events.TicketChangedEvent, ""),
			TicketID:  "T-1",
			Fields:    []string{"stale"},
		})

		ticket, err := store.TicketRepository().Snapshot(context.Background(), "T-1")

		return err == nil && ticket.Status == "escalated"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestValidateDefinitions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	definitions := services.NewDefinitions(store)

	var out bytes.Buffer

	require.NoError(t, store.DefinitionRepository().Save(ctx, staleDefinition()))
	require.NoError(t, validateDefinitions(ctx, &out, definitions))
	assert.Contains(t, out.String(), "Valid definitions: 1")
	assert.Contains(t, out.String(), "Swept by automatic transitions: 1")

	broken := staleDefinition()
	broken.Name = "Loops"
	broken.Transitions[0].ToStatus = "pending"
	require.NoError(t, store.DefinitionRepository().Save(ctx, broken))

	out.Reset()

	err := validateDefinitions(ctx, &out, definitions)
	require.ErrorIs(t, err, ErrInvalidDefinitions)
	assert.Contains(t, out.String(), "INVALID")
	assert.Contains(t, out.String(), "Invalid definitions: 1")
}
