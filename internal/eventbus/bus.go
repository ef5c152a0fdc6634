// Package eventbus provides the process-wide synchronous publish/subscribe
// hub that decouples the realtime connection from its consumers. Delivery is
// synchronous and in subscription order; there is no topic hierarchy, no
// wildcard matching, and no replay for late subscribers.
package eventbus

import (
	"log"
	"sync"
)

// Well-known topics published by the realtime layer and consumed by the
// presence tracker and chat router.
const (
	// TopicInbound carries every decoded server frame, in transport
	// delivery order.
	TopicInbound = "realtime.inbound"

	// TopicStateChanged carries realtime.StateChange values on every
	// connection state transition (including latency updates).
	TopicStateChanged = "realtime.state_changed"

	// TopicAuthenticated is published once per successful handshake with
	// the authenticated user id.
	TopicAuthenticated = "realtime.authenticated"

	// TopicAuthError is published when the server rejects the handshake.
	TopicAuthError = "realtime.auth_error"

	// TopicConnError carries structured connection errors, including the
	// terminal reconnect-exhausted event.
	TopicConnError = "realtime.error"
)

// Handler is a callback invoked with the published data for a topic.
type Handler func(data interface{})

// ValidationError reports a programmer error in a Subscribe call: an empty
// topic or a nil handler. It is the only error class this package raises
// directly to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "eventbus: " + e.Reason
}

// subscriber pairs a handler with a registration id so Unsubscribe can
// remove exactly one entry while preserving the order of the rest.
type subscriber struct {
	id int
	fn Handler
}

// Bus is an in-memory publish/subscribe dispatcher. All methods are safe for
// concurrent use; Publish invokes handlers synchronously, so a handler runs
// to completion before the next one starts.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
	nextID int
}

// Subscription represents a single registered handler. Calling Unsubscribe
// removes it from the bus; further publishes will not reach the handler.
type Subscription struct {
	bus   *Bus
	topic string
	id    int
}

// New creates a ready-to-use Bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string][]subscriber),
	}
}

// Subscribe registers a handler for a topic, preserving registration order.
// It returns a *ValidationError if the topic is empty or the handler is nil.
func (b *Bus) Subscribe(topic string, fn Handler) (*Subscription, error) {
	if topic == "" {
		return nil, &ValidationError{Reason: "topic must be a non-empty string"}
	}
	if fn == nil {
		return nil, &ValidationError{Reason: "handler must not be nil"}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return &Subscription{bus: b, topic: topic, id: id}, nil
}

// Unsubscribe removes the subscription from the bus. It is safe to call more
// than once; subsequent calls are no-ops.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}

	b := s.bus
	b.mu.Lock()
	subs := b.topics[s.topic]
	for i, sub := range subs {
		if sub.id == s.id {
			b.topics[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[s.topic]) == 0 {
		delete(b.topics, s.topic)
	}
	b.mu.Unlock()

	s.bus = nil
}

// Publish delivers data to every handler registered for topic, synchronously
// and in subscription order. It returns true if the topic had at least one
// subscriber at the time of the call. A panicking handler is recovered and
// logged; the remaining handlers still execute, so one faulty subscriber
// cannot break others or the publisher. Publishing to a topic with no
// subscribers is a silent no-op.
func (b *Bus) Publish(topic string, data interface{}) bool {
	b.mu.RLock()
	subs := b.topics[topic]
	snapshot := make([]subscriber, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return false
	}

	for _, sub := range snapshot {
		b.invoke(topic, sub, data)
	}
	return true
}

// invoke runs one handler with panic isolation.
func (b *Bus) invoke(topic string, sub subscriber, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: handler panic topic=%s: %v", topic, r)
		}
	}()
	sub.fn(data)
}

// Clear removes all subscribers for a topic. In-flight Publish calls are not
// affected because they operate on a snapshot.
func (b *Bus) Clear(topic string) {
	b.mu.Lock()
	delete(b.topics, topic)
	b.mu.Unlock()
}

// ClearAll removes every subscriber from every topic. Intended for teardown
// and tests.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	b.topics = make(map[string][]subscriber)
	b.mu.Unlock()
}

// SubscriberCount returns the number of handlers registered for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	n := len(b.topics[topic])
	b.mu.RUnlock()
	return n
}
