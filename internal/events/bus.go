package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(InputOpenedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case InputOpenedEvent:
		event.Publish(b.dispatcher, e)
	case InputClosedEvent:
		event.Publish(b.dispatcher, e)
	case OutputAddedEvent:
		event.Publish(b.dispatcher, e)
	case OutputRemovedEvent:
		event.Publish(b.dispatcher, e)
	case SubscriberLaggedEvent:
		event.Publish(b.dispatcher, e)
	case HardwareFallbackEvent:
		event.Publish(b.dispatcher, e)
	case OutputErrorEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's argument type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e InputOpenedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(InputOpenedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(InputClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SubscriberLaggedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(HardwareFallbackEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unrecognized handler type: no-op unsubscribe.
		return func() {}
	}
}
