package events

import (
	"sync"
	"testing"
)

func TestBusPublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var got []int
	bus.Subscribe(ChatLoading, func(Event) { got = append(got, 1) })
	bus.Subscribe(ChatLoading, func(Event) { got = append(got, 2) })
	bus.Subscribe(ChatLoading, func(Event) { got = append(got, 3) })

	bus.Publish(ChatLoading, ChatLoadingPayload{Loading: true})

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected delivery order [1 2 3], got %v", got)
	}
}

func TestBusPayloadAndEnvelope(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(ThreadUpdated, func(e Event) { received = e })
	bus.Publish(ThreadUpdated, ThreadUpdatedPayload{ThreadID: "t1"})

	if received.Name != ThreadUpdated {
		t.Errorf("expected event name %q, got %q", ThreadUpdated, received.Name)
	}
	if received.ID == "" {
		t.Error("expected a non-empty event id")
	}
	if received.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
	p, ok := received.Payload.(ThreadUpdatedPayload)
	if !ok || p.ThreadID != "t1" {
		t.Errorf("unexpected payload: %#v", received.Payload)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsub := bus.Subscribe(ChatLoading, func(Event) { calls++ })

	bus.Publish(ChatLoading, nil)
	unsub()
	bus.Publish(ChatLoading, nil)

	if calls != 1 {
		t.Fatalf("expected 1 delivery, got %d", calls)
	}

	t.Run("idempotent", func(t *testing.T) {
		unsub()
		if n := bus.SubscriberCount(ChatLoading); n != 0 {
			t.Fatalf("expected 0 subscribers, got %d", n)
		}
	})
}

func TestBusSubscribeDuringDispatchMissesCurrentPass(t *testing.T) {
	bus := NewBus()

	lateCalls := 0
	bus.Subscribe(ChatLoading, func(Event) {
		bus.Subscribe(ChatLoading, func(Event) { lateCalls++ })
	})

	bus.Publish(ChatLoading, nil)
	if lateCalls != 0 {
		t.Fatal("handler registered during dispatch received the same pass")
	}

	bus.Publish(ChatLoading, nil)
	if lateCalls != 1 {
		t.Fatalf("expected late handler to receive the next pass, got %d calls", lateCalls)
	}
}

func TestBusPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe(ChatLoading, func(Event) { panic("handler bug") })
	bus.Subscribe(ChatLoading, func(Event) { delivered = true })

	bus.Publish(ChatLoading, nil)
	if !delivered {
		t.Fatal("panic in one handler prevented delivery to the next")
	}
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(ChatLoading, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(ChatLoading, nil)
		}()
	}
	wg.Wait()

	if count != 50 {
		t.Fatalf("expected 50 deliveries, got %d", count)
	}
}
