package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan InputOpenedEvent, 1)

	unsub := bus.Subscribe(func(e InputOpenedEvent) {
		received <- e
	})
	defer unsub()

	ev := InputOpenedEvent{StreamCount: 2, Timestamp: "2026-01-27T10:30:00Z"}
	bus.Publish(ev)

	got := <-received
	if got.StreamCount != ev.StreamCount {
		t.Errorf("Expected stream_count %d, got %d", ev.StreamCount, got.StreamCount)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan OutputAddedEvent, 1)
	received2 := make(chan OutputAddedEvent, 1)

	unsub1 := bus.Subscribe(func(e OutputAddedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e OutputAddedEvent) {
		received2 <- e
	})
	defer unsub2()

	ev := OutputAddedEvent{OutputID: "file0", Kind: "container_mux"}
	bus.Publish(ev)

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan OutputErrorEvent, 1)

	unsub := bus.Subscribe(func(e OutputErrorEvent) {
		received <- e
	})

	bus.Publish(OutputErrorEvent{OutputID: "file0", Error: "write failed"})
	<-received

	unsub()

	bus.Publish(OutputErrorEvent{OutputID: "file1", Error: "write failed"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	inputReceived := make(chan bool, 1)
	outputReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ InputOpenedEvent) {
		inputReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ OutputAddedEvent) {
		outputReceived <- true
	})
	defer unsub2()

	bus.Publish(InputOpenedEvent{StreamCount: 1})
	<-inputReceived

	select {
	case <-outputReceived:
		t.Fatal("Output subscriber should NOT have received InputOpenedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(OutputAddedEvent{OutputID: "file0"})
	<-outputReceived

	select {
	case <-inputReceived:
		t.Fatal("Input subscriber should NOT have received OutputAddedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ SubscriberLaggedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(SubscriberLaggedEvent{
					Bus:       "packet",
					StreamID:  "v0",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"LogEntry", LogEntryEvent{Message: "hello"}},
		{"InputOpened", InputOpenedEvent{StreamCount: 2}},
		{"InputClosed", InputClosedEvent{Reason: "eof"}},
		{"OutputAdded", OutputAddedEvent{OutputID: "file0"}},
		{"OutputRemoved", OutputRemovedEvent{OutputID: "file0"}},
		{"SubscriberLagged", SubscriberLaggedEvent{Bus: "frame", StreamID: "v0", Dropped: 3}},
		{"HardwareFallback", HardwareFallbackEvent{Requested: "h264_vaapi", Selected: "libx264"}},
		{"OutputError", OutputErrorEvent{OutputID: "file0", Error: "disk full"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			case InputOpenedEvent:
				unsub = bus.Subscribe(func(e InputOpenedEvent) { received <- e })
			case InputClosedEvent:
				unsub = bus.Subscribe(func(e InputClosedEvent) { received <- e })
			case OutputAddedEvent:
				unsub = bus.Subscribe(func(e OutputAddedEvent) { received <- e })
			case OutputRemovedEvent:
				unsub = bus.Subscribe(func(e OutputRemovedEvent) { received <- e })
			case SubscriberLaggedEvent:
				unsub = bus.Subscribe(func(e SubscriberLaggedEvent) { received <- e })
			case HardwareFallbackEvent:
				unsub = bus.Subscribe(func(e HardwareFallbackEvent) { received <- e })
			case OutputErrorEvent:
				unsub = bus.Subscribe(func(e OutputErrorEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
	}{
		{
			"InputOpenedEvent",
			InputOpenedEvent{StreamCount: 2, Timestamp: "2026-01-27T10:30:00Z"},
		},
		{
			"SubscriberLaggedEvent",
			SubscriberLaggedEvent{Bus: "packet", StreamID: "v0", Dropped: 4, Timestamp: "2026-01-27T10:30:00Z"},
		},
		{
			"HardwareFallbackEvent",
			HardwareFallbackEvent{Requested: "h264_vaapi", Selected: "libx264", Reason: "init failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if len(result) == 0 {
				t.Fatal("Unmarshaled to empty object")
			}
		})
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[InputOpenedEvent](bus, ch)
	defer unsub()

	ev := InputOpenedEvent{StreamCount: 2}
	bus.Publish(ev)

	received := <-ch
	gotEvent, ok := received.(InputOpenedEvent)
	if !ok {
		t.Fatalf("Expected InputOpenedEvent, got %T", received)
	}
	if gotEvent.StreamCount != ev.StreamCount {
		t.Errorf("Expected stream_count %d, got %d", ev.StreamCount, gotEvent.StreamCount)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[OutputAddedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(OutputAddedEvent{OutputID: "file0"})
		done <- true
	}()

	<-done // Should complete without blocking
}
