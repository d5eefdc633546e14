package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/mocks"
)

func TestEventBusNotifier_SendEmail(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "welcome", mock.MatchedBy(func(e events.EmailRequested) bool {
		return e.Template == "welcome" && len(e.Recipients) == 2
	})).Return(nil)

	n := NewEventBusNotifier(bus)

	err := n.SendEmail(context.Background(), "welcome", []string{"a@example.com", "b@example.com"}, nil)
	require.NoError(t, err)
	bus.AssertExpectations(t)
}

func TestEventBusNotifier_NotifyClientPublishError(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "t-1", mock.Anything).Return(errors.New("broker down"))

	n := NewEventBusNotifier(bus)

	err := n.NotifyClient(context.Background(), "t-1", "resolved")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestEventBusNotifier_RespectsDeadline(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "t-1", mock.Anything).
		After(time.Second).
		Return(nil)

	n := NewEventBusNotifier(bus)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := n.NotifyClient(ctx, "t-1", "resolved")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
