// Package bus is a process-wide, type-keyed publish/subscribe router.
// Listeners register interest in an event kind; publishing dispatches the
// event to every subscription registered for that exact kind. The bus owns no
// domain data and keeps no history: subscriptions added after a publish never
// see it.
package bus

import "sync"

// Kind identifies an event payload type. The set is closed: every event value
// routed through the bus reports one of these kinds.
type Kind string

const (
	KindSyncRequest    Kind = "sync.request"
	KindSyncTransition Kind = "sync.transition"
	KindCommitApplied  Kind = "sync.commit_applied"
	KindStreamEvent    Kind = "stream.event"
)

// Event is a value routed by the bus.
type Event interface {
	EventKind() Kind
}

// Handler consumes events for one subscription.
type Handler func(Event)

// Subscription is a registered listener for one kind.
type Subscription struct {
	kind    Kind
	handler Handler
	async   bool

	// Async delivery: events flow through ch to a dedicated goroutine so
	// delivery order to this subscription matches publish order.
	mu     sync.Mutex
	closed bool
	ch     chan Event
	done   chan struct{}
}

func (s *Subscription) deliver(event Event) {
	if !s.async {
		s.handler(event)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		// Subscriber is not keeping up; drop rather than block the publisher.
	}
}

func (s *Subscription) stop() {
	if !s.async {
		return
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()

	<-s.done
}

// Bus routes events to subscriptions by kind. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]*Subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind][]*Subscription)}
}

// Subscribe registers a handler invoked inline during Publish, in publish
// order.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	return b.add(&Subscription{kind: kind, handler: handler})
}

// SubscribeAsync registers a handler invoked on its own goroutine. Delivery
// order to the subscription still matches publish order; Publish does not wait
// for the handler.
func (b *Bus) SubscribeAsync(kind Kind, handler Handler) *Subscription {
	sub := &Subscription{
		kind:    kind,
		handler: handler,
		async:   true,
		ch:      make(chan Event, 64),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for ev := range sub.ch {
			sub.handler(ev)
		}
	}()

	return b.add(sub)
}

func (b *Bus) add(sub *Subscription) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.kind] = append(b.subs[sub.kind], sub)
	return sub
}

// Unsubscribe removes a subscription. For async subscriptions it waits until
// the delivery goroutine has drained, so no handler invocation happens after
// Unsubscribe returns.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	list := b.subs[sub.kind]
	for i, s := range list {
		if s == sub {
			b.subs[sub.kind] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.stop()
}

// Publish dispatches an event to every subscription registered for its kind.
// Delivery is best effort: a full async subscription drops the event rather
// than blocking the publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	list := b.subs[event.EventKind()]
	subs := make([]*Subscription, len(list))
	copy(subs, list)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(event)
	}
}
