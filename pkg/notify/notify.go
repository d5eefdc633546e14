// Package notify implements the notification port.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/ticketflow/pkg/eventbus"
	"github.com/dukex/ticketflow/pkg/events"
)

// EventBusNotifier turns notification requests into events. Delivery is
// the job of whoever consumes them.
type EventBusNotifier struct {
	publisher eventbus.EventPublisher
}

func NewEventBusNotifier(publisher eventbus.EventPublisher) *EventBusNotifier {
	return &EventBusNotifier{publisher: publisher}
}

func (n *EventBusNotifier) SendEmail(ctx context.Context, template string, recipients []string, data map[string]any) error {
	event := events.EmailRequested{
		BaseEvent:  events.NewBaseEvent(events.EmailRequestedEvent, ""),
		Template:   template,
		Recipients: recipients,
		Data:       data,
	}

	return n.publish(ctx, template, event)
}

func (n *EventBusNotifier) NotifyClient(ctx context.Context, ticketID, template string) error {
	event := events.ClientNotificationRequested{
		BaseEvent: events.NewBaseEvent(events.ClientNotificationRequestedEvent, ""),
		TicketID:  ticketID,
		Template:  template,
	}

	return n.publish(ctx, ticketID, event)
}

// publish honours the caller's deadline even when the transport does not.
func (n *EventBusNotifier) publish(ctx context.Context, key string, event eventbus.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		done <- n.publisher.Publish(ctx, key, event)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("publish %s: %w", event.GetType(), err)
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogNotifier only logs requests. It is meant for local runs.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendEmail(ctx context.Context, template string, recipients []string, _ map[string]any) error {
	n.logger.InfoContext(ctx, "email requested", "template", template, "recipients", recipients)

	return nil
}

func (n *LogNotifier) NotifyClient(ctx context.Context, ticketID, template string) error {
	n.logger.InfoContext(ctx, "client notification requested", "ticket_id", ticketID, "template", template)

	return nil
}
