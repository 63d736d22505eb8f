package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventSearchStarted     EventType = "search_started"
	EventSearchProgress    EventType = "search_progress"
	EventSearchCompleted   EventType = "search_completed"
	EventSearchFailed      EventType = "search_failed"
	EventRotationStarted   EventType = "rotation_started"
	EventRotationCompleted EventType = "rotation_completed"
	EventRotationDeferred  EventType = "rotation_deferred"
	EventProxyBlocked      EventType = "proxy_blocked"
	EventSessionWarmed     EventType = "session_warmed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe registers a handler for an event type. The returned id
	// identifies the registration for Unsubscribe.
	Subscribe(eventType EventType, handler EventHandler) (int, error)

	// Unsubscribe removes a previously registered handler
	Unsubscribe(eventType EventType, id int) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
