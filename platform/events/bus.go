package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"loan_broker_backend/platform/logger"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 4
)

type envelope struct {
	ctx   context.Context
	event Event
}

// InMemoryBus dispatches events to subscribed handlers. Publish never blocks
// the caller: events go through a bounded queue drained by a fixed worker
// pool, and when the queue is full the event is dropped with a warning.
// Handler errors and panics are logged and never reach the publisher.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	queue    chan envelope
	log      *logger.Logger
	wg       sync.WaitGroup
	closed   bool
}

// NewInMemoryBus creates a bus with the default queue size and worker count.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return NewInMemoryBusWithSize(log, defaultQueueSize, defaultWorkers)
}

// NewInMemoryBusWithSize creates a bus with an explicit queue size and worker count.
func NewInMemoryBusWithSize(log *logger.Logger, queueSize, workers int) *InMemoryBus {
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if workers < 1 {
		workers = defaultWorkers
	}

	b := &InMemoryBus{
		handlers: make(map[string][]Handler),
		queue:    make(chan envelope, queueSize),
		log:      log,
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

// Subscribe registers a handler for a specific event name.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish enqueues the event for asynchronous delivery.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.log.Warn("event dropped: bus closed", "event", event.EventName())
		return
	}

	// Handlers run after the request finishes; keep values, drop cancellation.
	detached := context.WithoutCancel(ctx)
	select {
	case b.queue <- envelope{ctx: detached, event: event}:
	default:
		b.log.Warn("event dropped: queue full", "event", event.EventName())
	}
}

// PublishSync delivers the event inline and returns the joined handler errors.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, h := range b.handlersFor(event.EventName()) {
		if err := b.invoke(ctx, h, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *InMemoryBus) worker() {
	defer b.wg.Done()
	for env := range b.queue {
		for _, h := range b.handlersFor(env.event.EventName()) {
			if err := b.invoke(env.ctx, h, env.event); err != nil {
				b.log.Warn("event handler failed", "event", env.event.EventName(), "error", err)
			}
		}
	}
}

func (b *InMemoryBus) handlersFor(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := b.handlers[name]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

func (b *InMemoryBus) invoke(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}

var _ Bus = (*InMemoryBus)(nil)
