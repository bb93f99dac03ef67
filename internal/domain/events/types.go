// Package events defines the events msgr publishes to its owner (the
// operator API and CLI listeners).
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Message events
	EventTypeChatMessage     EventType = "chat_message"
	EventTypeMessageRejected EventType = "message_rejected"
	EventTypeChatRead        EventType = "chat_read"

	// Connection events
	EventTypeConnectionState EventType = "connection_state"
	EventTypePeerDrop        EventType = "peer_drop"
)

// Event is the base interface for all events.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// ToJSON serializes the event to JSON.
	ToJSON() ([]byte, error)

	// GetChatID returns the chat the event belongs to (empty for global events).
	GetChatID() string
}

// BaseEvent is the envelope every event is serialized in.
type BaseEvent struct {
	EventType EventType `json:"event"`
	EventTime time.Time `json:"timestamp"`
	ChatID    string    `json:"chat_id,omitempty"`
	Payload   any       `json:"payload"`
}

// Type returns the event type.
func (e *BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// GetChatID returns the chat ID.
func (e *BaseEvent) GetChatID() string {
	return e.ChatID
}

// ToJSON serializes the event to JSON.
func (e *BaseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent creates a global event with the given type and payload.
func NewEvent(eventType EventType, payload any) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		EventTime: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewChatEvent creates an event scoped to a chat.
func NewChatEvent(eventType EventType, chatID string, payload any) *BaseEvent {
	e := NewEvent(eventType, payload)
	e.ChatID = chatID
	return e
}
