package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loan_broker_backend/platform/logger"
)

type testEvent struct {
	BaseEvent
	name string
}

func (e testEvent) EventName() string { return e.name }

func TestPublishDeliversAsynchronously(t *testing.T) {
	bus := NewInMemoryBusWithSize(logger.Discard(), 8, 2)

	var mu sync.Mutex
	received := 0
	bus.Subscribe("quote.accepted", HandlerFunc(func(context.Context, Event) error {
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 3; i++ {
		bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "quote.accepted"})
	}
	bus.Close()

	if received != 3 {
		t.Fatalf("expected 3 deliveries, got %d", received)
	}
}

func TestPublishIsolatesHandlerFailures(t *testing.T) {
	bus := NewInMemoryBusWithSize(logger.Discard(), 8, 1)

	delivered := make(chan struct{}, 1)
	bus.Subscribe("quote.pushed", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))
	bus.Subscribe("quote.pushed", HandlerFunc(func(context.Context, Event) error {
		return errors.New("sink down")
	}))
	bus.Subscribe("quote.pushed", HandlerFunc(func(context.Context, Event) error {
		delivered <- struct{}{}
		return nil
	}))

	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "quote.pushed"})

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("third handler was not reached after sibling failures")
	}
	bus.Close()
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	bus := NewInMemoryBusWithSize(logger.Discard(), 1, 1)

	release := make(chan struct{})
	bus.Subscribe("slow", HandlerFunc(func(context.Context, Event) error {
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "slow"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	close(release)
	bus.Close()
}

func TestPublishSyncJoinsErrors(t *testing.T) {
	bus := NewInMemoryBusWithSize(logger.Discard(), 1, 1)
	defer bus.Close()

	bus.Subscribe("sync", HandlerFunc(func(context.Context, Event) error {
		return errors.New("first")
	}))

	err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "sync"})
	if err == nil || err.Error() != "first" {
		t.Fatalf("expected joined handler error, got %v", err)
	}
}
