package pubsub

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := New[int](nil)
	_, ch := b.Subscribe(4)

	b.Publish(42)

	select {
	case v := <-ch:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("did not receive published value")
	}
}

func TestBusFanOut(t *testing.T) {
	b := New[int](nil)
	_, ch1 := b.Subscribe(4)
	_, ch2 := b.Subscribe(4)

	b.Publish(7)

	assert.Equal(t, 7, <-ch1)
	assert.Equal(t, 7, <-ch2)
}

func TestBusLagDropsRatherThanBlocks(t *testing.T) {
	var laggedID uuid.UUID
	var laggedTotal uint64

	b := New[int](func(id uuid.UUID, total uint64) {
		laggedID = id
		laggedTotal = total
	})
	id, ch := b.Subscribe(1)

	b.Publish(1)
	b.Publish(2) // queue full, should drop without blocking
	b.Publish(3)

	require.Equal(t, id, laggedID)
	assert.GreaterOrEqual(t, laggedTotal, uint64(1))
	assert.Equal(t, uint64(laggedTotal), b.Dropped(id))

	assert.Equal(t, 1, <-ch)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := New[int](nil)
	id, ch := b.Subscribe(1)

	b.Unsubscribe(id)
	// second call must be a no-op, not a double close panic
	b.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBusUnsubscribedSubscriberNotNotified(t *testing.T) {
	b := New[int](nil)
	id, _ := b.Subscribe(1)
	b.Unsubscribe(id)

	b.Publish(99) // no subscribers left, must not panic
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBusClose(t *testing.T) {
	b := New[int](nil)
	_, ch1 := b.Subscribe(1)
	_, ch2 := b.Subscribe(1)

	b.Close()

	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBusSubscribeAfterCloseSeesEOS(t *testing.T) {
	b := New[int](nil)
	b.Close()

	_, ch := b.Subscribe(4)

	// A late subscriber must observe end-of-stream immediately rather
	// than blocking on a channel nothing will ever close.
	_, open := <-ch
	assert.False(t, open)

	b.Publish(1) // no-op after close, must not panic
}
