package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is used when a subscriber asks for a non-positive buffer.
const DefaultBufferSize = 256

// subscription is one subscriber channel, optionally restricted to a single graph.
type subscription struct {
	ch    chan Event
	graph string // "" = every graph
}

func (s subscription) wants(e Event) bool {
	return s.graph == "" || e.Graph() == s.graph
}

// EventBus is a channel-based pub-sub event bus.
// Supports topic-based subscriptions, SubscribeAll for cross-topic consumption,
// and SubscribeGraph for following one graph of a batch.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]subscription // topic -> subscribers
	allSubs []subscription            // subscribed to all topics
	closed  bool
	dropped atomic.Int64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]subscription),
	}
}

// Subscribe creates a subscription to a specific topic.
// Returns a read-only channel that receives events published to that topic.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.subscribe(topic, "", bufSize)
}

// SubscribeAll creates a subscription to ALL topics.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe("", "", bufSize)
}

// SubscribeGraph receives events from every topic, but only those about the named graph.
func (b *EventBus) SubscribeGraph(graph string, bufSize int) <-chan Event {
	return b.subscribe("", graph, bufSize)
}

// subscribe registers a channel. An empty topic means all topics.
func (b *EventBus) subscribe(topic, graph string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	sub := subscription{ch: make(chan Event, bufSize), graph: graph}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub.ch
	}

	if topic == "" {
		b.allSubs = append(b.allSubs, sub)
	} else {
		b.subs[topic] = append(b.subs[topic], sub)
	}
	return sub.ch
}

// Publish sends an event to all subscribers of the given topic.
// Non-blocking: if a subscriber's channel is full, the event is dropped for that
// subscriber and counted in Dropped. Also sends to all-topic subscribers.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[topic] {
		b.send(sub, event)
	}
	for _, sub := range b.allSubs {
		b.send(sub, event)
	}
}

func (b *EventBus) send(sub subscription, event Event) {
	if !sub.wants(event) {
		return
	}
	select {
	case sub.ch <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times (idempotent).
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	for _, sub := range b.allSubs {
		close(sub.ch)
	}
}
