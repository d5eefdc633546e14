package protocol

import (
	"context"
	"time"

	"github.com/dukex/ticketflow/pkg/models"
)

// Notifier delivers outbound messages. Calls are fire-and-forget and are
// bounded by the caller's context deadline.
type Notifier interface {
	SendEmail(ctx context.Context, template string, recipients []string, data map[string]any) error
	NotifyClient(ctx context.Context, ticketID, template string) error
}

// Calendar answers whether an instant falls in the tenant's business hours.
type Calendar interface {
	IsBusinessHours(now time.Time) bool
}

// RoleResolver maps an invoker to its privilege level.
type RoleResolver interface {
	RoleOf(ctx context.Context, invoker models.Invoker) (models.Role, error)
}
