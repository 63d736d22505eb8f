package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
)

// NewLifecycleLogger creates an event handler that writes every fleet
// event to the log. Completions log at info, failures and blocks at
// warn, everything else at debug so poll progress stays quiet.
func NewLifecycleLogger(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		var logEvent arbor.ILogEvent
		switch event.Type {
		case interfaces.EventSearchCompleted, interfaces.EventRotationCompleted, interfaces.EventSessionWarmed:
			logEvent = logger.Info()
		case interfaces.EventSearchFailed, interfaces.EventProxyBlocked:
			logEvent = logger.Warn()
		default:
			logEvent = logger.Debug()
		}
		logEvent = logEvent.Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.SearchEventPayload:
			if payload.SearchID != "" {
				logEvent = logEvent.Str("search_id", payload.SearchID)
			}
			if payload.Phase != "" {
				logEvent = logEvent.Str("phase", payload.Phase)
			}
			if payload.Attempt > 0 {
				logEvent = logEvent.Int("attempt", payload.Attempt)
			}
			if payload.DurationMs > 0 {
				logEvent = logEvent.Int64("duration_ms", payload.DurationMs)
			}
			if payload.Error != "" {
				logEvent = logEvent.Str("error", payload.Error)
			}
		case models.RotationEventPayload:
			logEvent = logEvent.
				Str("reason", payload.Reason).
				Int("profile", payload.ProfileIndex).
				Int("proxy", payload.ProxyIndex)
			if payload.Deferred {
				logEvent = logEvent.Bool("deferred", true)
			}
		case models.ProxyBlockedPayload:
			logEvent = logEvent.
				Int("proxy", payload.ProxyIndex).
				Str("reason", payload.Reason)
		case models.IdentitySnapshot:
			logEvent = logEvent.
				Str("state", string(payload.State)).
				Int("profile", payload.ProfileIndex).
				Int("proxy", payload.ProxyIndex)
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLifecycleLogger subscribes the lifecycle logger to every
// known event type
func SubscribeLifecycleLogger(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLifecycleLogger(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventSearchStarted,
		interfaces.EventSearchProgress,
		interfaces.EventSearchCompleted,
		interfaces.EventSearchFailed,
		interfaces.EventRotationStarted,
		interfaces.EventRotationCompleted,
		interfaces.EventRotationDeferred,
		interfaces.EventProxyBlocked,
		interfaces.EventSessionWarmed,
	}

	for _, eventType := range eventTypes {
		if _, err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Info().
		Int("event_type_count", len(eventTypes)).
		Msg("Lifecycle logger subscribed to all event types")

	return nil
}
