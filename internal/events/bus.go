package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Each subscriber has its own
// goroutine and queue, so a slow handler never blocks Publish.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its concrete type.
// Usage: bus.Publish(RestartRequestedEvent{Source: "api"})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case RestartRequestedEvent:
		event.Publish(b.dispatcher, e)
	case ConfigChangedEvent:
		event.Publish(b.dispatcher, e)
	case DocumentOpenedEvent:
		event.Publish(b.dispatcher, e)
	case ServerStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case OperatorNotificationEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type named by its parameter and
// returns an unsubscribe function. Unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e DocumentOpenedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(RestartRequestedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConfigChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DocumentOpenedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ServerStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OperatorNotificationEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

