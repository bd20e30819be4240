package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels.
// Huma SSE handlers consume events from a select loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}

// SubscribeStatus bridges every event an operator dashboard cares about into
// ch: state transitions, notifications, opened documents and config reloads.
// Log entries have their own stream.
func SubscribeStatus(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[ServerStateChangedEvent](bus, ch),
		SubscribeToChannel[OperatorNotificationEvent](bus, ch),
		SubscribeToChannel[DocumentOpenedEvent](bus, ch),
		SubscribeToChannel[ConfigChangedEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
