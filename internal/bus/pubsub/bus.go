// Package pubsub implements the broadcast fabric shared by the packet bus
// and the frame bus: a single wait-free publisher fanning out to many
// independent subscribers, each with its own bounded queue and its own
// fate when it falls behind.
package pubsub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// LagHandler is invoked whenever a subscriber's queue is full and an item
// had to be dropped on its behalf. total is the cumulative drop count for
// that subscriber.
type LagHandler func(subscriberID uuid.UUID, total uint64)

// Bus broadcasts values of type T to any number of subscribers. A Bus is
// safe for concurrent use; Publish never blocks on a slow subscriber.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*subscriber[T]
	onLag       LagHandler
	closed      bool
}

type subscriber[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// New creates an empty Bus. onLag may be nil.
func New[T any](onLag LagHandler) *Bus[T] {
	return &Bus[T]{
		subscribers: make(map[uuid.UUID]*subscriber[T]),
		onLag:       onLag,
	}
}

// Subscribe registers a new subscriber with the given queue depth and
// returns its handle and receive channel. Call Unsubscribe to detach.
// Subscribing to a bus that has already closed returns an already-closed
// channel, so late subscribers observe end-of-stream immediately instead
// of blocking forever.
func (b *Bus[T]) Subscribe(queueDepth int) (uuid.UUID, <-chan T) {
	if queueDepth <= 0 {
		queueDepth = 1
	}

	id := uuid.New()
	sub := &subscriber[T]{ch: make(chan T, queueDepth)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return id, sub.ch
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to call
// more than once; the second call is a no-op.
func (b *Bus[T]) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Publish fans out v to every current subscriber. A subscriber whose
// queue is full has the item dropped rather than stalling the rest of
// the bus; onLag (if set) is notified.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		select {
		case sub.ch <- v:
		default:
			total := sub.dropped.Add(1)
			if b.onLag != nil {
				b.onLag(id, total)
			}
		}
	}
}

// SubscriberCount returns the number of currently attached subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns the cumulative drop count for a subscriber, or 0 if the
// subscriber is unknown (already unsubscribed).
func (b *Bus[T]) Dropped(id uuid.UUID) uint64 {
	b.mu.RLock()
	sub, ok := b.subscribers[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return sub.dropped.Load()
}

// Close signals end-of-stream: every subscriber's channel is closed once
// its residual buffer is drained, and later Subscribe/Publish calls are
// no-ops against closed channels.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
