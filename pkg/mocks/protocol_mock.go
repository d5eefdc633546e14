package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/ticketflow/pkg/models"
)

// MockNotifier is a mock implementation of protocol.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendEmail(ctx context.Context, template string, recipients []string, data map[string]any) error {
	args := m.Called(ctx, template, recipients, data)

	return args.Error(0)
}

func (m *MockNotifier) NotifyClient(ctx context.Context, ticketID, template string) error {
	args := m.Called(ctx, ticketID, template)

	return args.Error(0)
}

// MockRoleResolver is a mock implementation of protocol.RoleResolver interface.
type MockRoleResolver struct {
	mock.Mock
}

func (m *MockRoleResolver) RoleOf(ctx context.Context, invoker models.Invoker) (models.Role, error) {
	args := m.Called(ctx, invoker)

	return args.Get(0).(models.Role), args.Error(1)
}

// MockCalendar is a mock implementation of protocol.Calendar interface.
type MockCalendar struct {
	mock.Mock
}

func (m *MockCalendar) IsBusinessHours(now time.Time) bool {
	args := m.Called(now)

	return args.Bool(0)
}
