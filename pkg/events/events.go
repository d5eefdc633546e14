// Package events defines the event types published by the workflow engine.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/ticketflow/pkg/models"
)

type EventType string

// Topic carries every ticketflow event.
const Topic = "ticketflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Transition execution events.
	TransitionExecutedEvent EventType = "transition.executed"
	TransitionRejectedEvent EventType = "transition.rejected"

	// Host-side ticket changes that may enable automatic transitions.
	TicketChangedEvent EventType = "ticket.changed"

	// Definition lifecycle events.
	DefinitionCreatedEvent     EventType = "definition.created"
	DefinitionUpdatedEvent     EventType = "definition.updated"
	DefinitionDeletedEvent     EventType = "definition.deleted"
	DefinitionImportedEvent    EventType = "definition.imported"
	DefinitionActivatedEvent   EventType = "definition.activated"
	DefinitionDeactivatedEvent EventType = "definition.deactivated"

	// Outbound notification requests, delivered by an external consumer.
	EmailRequestedEvent              EventType = "notification.email_requested"
	ClientNotificationRequestedEvent EventType = "notification.client_requested"

	SweepCompletedEvent EventType = "sweep.completed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// TransitionExecuted is published after a transition committed.
type TransitionExecuted struct {
	BaseEvent

	RecordID      string                  `json:"record_id"`
	TicketID      string                  `json:"ticket_id"`
	TransitionID  string                  `json:"transition_id"`
	FromStatus    string                  `json:"from_status"`
	ToStatus      string                  `json:"to_status"`
	ExecutedBy    string                  `json:"executed_by"`
	Automatic     bool                    `json:"automatic"`
	SweepPassID   string                  `json:"sweep_pass_id,omitempty"`
	Outcome       models.ExecutionOutcome `json:"outcome"`
	FailedActions []models.ActionResult   `json:"failed_actions,omitempty"`
}

func (e TransitionExecuted) GetType() EventType {
	return TransitionExecutedEvent
}

// TransitionRejected is published when a request error refused a transition.
type TransitionRejected struct {
	BaseEvent

	TicketID     string `json:"ticket_id"`
	TransitionID string `json:"transition_id"`
	InvokerID    string `json:"invoker_id"`
	Code         string `json:"code"`
	Reason       string `json:"reason"`
}

func (e TransitionRejected) GetType() EventType {
	return TransitionRejectedEvent
}

// TicketChanged is published by the host when ticket attributes changed.
type TicketChanged struct {
	BaseEvent

	TicketID string   `json:"ticket_id"`
	Fields   []string `json:"fields,omitempty"`
}

func (e TicketChanged) GetType() EventType {
	return TicketChangedEvent
}

// DefinitionChanged covers every definition lifecycle event; Type tells which.
type DefinitionChanged struct {
	BaseEvent

	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

func (e DefinitionChanged) GetType() EventType {
	return e.Type
}

// EmailRequested asks the delivery service to send a templated email.
type EmailRequested struct {
	BaseEvent

	Template   string         `json:"template"`
	Recipients []string       `json:"recipients"`
	Data       map[string]any `json:"data,omitempty"`
}

func (e EmailRequested) GetType() EventType {
	return EmailRequestedEvent
}

// ClientNotificationRequested asks the delivery service to notify a ticket's client.
type ClientNotificationRequested struct {
	BaseEvent

	TicketID string `json:"ticket_id"`
	Template string `json:"template"`
}

func (e ClientNotificationRequested) GetType() EventType {
	return ClientNotificationRequestedEvent
}

// SweepCompleted reports the counters of a finished sweep pass.
type SweepCompleted struct {
	BaseEvent

	PassID   string        `json:"pass_id"`
	Examined int           `json:"examined"`
	Executed int           `json:"executed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

func (e SweepCompleted) GetType() EventType {
	return SweepCompletedEvent
}

// New returns an empty event value for eventType, or nil when the type is unknown.
func New(eventType EventType) any {
	switch eventType {
	case TransitionExecutedEvent:
		return &TransitionExecuted{}
	case TransitionRejectedEvent:
		return &TransitionRejected{}
	case TicketChangedEvent:
		return &TicketChanged{}
	case DefinitionCreatedEvent, DefinitionUpdatedEvent, DefinitionDeletedEvent,
		DefinitionImportedEvent, DefinitionActivatedEvent, DefinitionDeactivatedEvent:
		return &DefinitionChanged{}
	case EmailRequestedEvent:
		return &EmailRequested{}
	case ClientNotificationRequestedEvent:
		return &ClientNotificationRequested{}
	case SweepCompletedEvent:
		return &SweepCompleted{}
	default:
		return nil
	}
}
