package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes run events to registered subscribers in a fan-out
	// pattern. The bus is thread-safe and supports concurrent Publish,
	// Register, and Close operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error. This fail-fast behavior
	// lets critical subscribers halt a run when they encounter an
	// unrecoverable failure.
	Bus interface {
		// Publish delivers the event to every currently registered
		// subscriber. Subscribers are invoked in registration order, and
		// iteration stops at the first error returned by any subscriber.
		Publish(ctx context.Context, event Event) error

		// Register adds a subscriber to the bus and returns a Subscription
		// that can be closed to unregister. Register returns an error if sub
		// is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published run events. Subscribers registered with
	// a Bus receive all events in publish order until their subscription is
	// closed.
	//
	// HandleEvent should return an error only if processing fails in a way
	// that should halt the run. The Bus stops iterating at the first error,
	// so non-critical failures should be logged and ignored.
	Subscriber interface {
		// HandleEvent processes a single event. The context originates from
		// the Bus.Publish call and may carry deadlines or cancellation.
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts an ordinary function into a Subscriber.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Bus. Closing it
	// removes the subscriber; Close is idempotent.
	Subscription interface {
		// Close removes the subscriber from the bus. After Close returns the
		// subscriber receives no new events, though in-flight deliveries may
		// still complete. Close always returns nil.
		Close() error
	}

	bus struct {
		mu sync.RWMutex
		// subscribers maps subscription handles to their subscriber
		// implementations. The subscription pointer is the key to enable
		// removal.
		subscribers map[*subscription]Subscriber
		// order preserves registration order for deterministic delivery.
		order []*subscription
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent implements Subscriber by invoking the function.
func (fn SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return fn(ctx, event)
}

// NewBus constructs a new in-memory event bus. The returned bus is
// thread-safe and ready for immediate use.
//
// The bus implements a synchronous fan-out: when Publish is called each
// registered subscriber receives the event in registration order. If any
// subscriber returns an error, iteration stops immediately and that error is
// returned to the publisher.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

// Publish delivers the event to every currently registered subscriber in
// registration order. The snapshot of subscribers is captured before
// iteration begins, so registrations and unregistrations during Publish do
// not affect the current delivery.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.order))
	for _, s := range b.order {
		if sub, ok := b.subscribers[s]; ok {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a subscriber to the bus and returns a Subscription handle
// that can be closed to unregister.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.order = append(b.order, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. The method is idempotent and
// thread-safe.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		for i, cur := range s.bus.order {
			if cur == s {
				s.bus.order = append(s.bus.order[:i], s.bus.order[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
