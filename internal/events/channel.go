package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges a callback subscription onto a channel, for
// consumers that drain events in a select loop (the CLI's event logger,
// or a control plane pushing them to its own clients). Delivery is
// best-effort: if ch is full the event is dropped rather than blocking
// the dispatcher.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
