// Package pubsub fans out Node and Universe change notifications to
// external subscribers: one shared fan-out point with per-subscriber
// channels and an EventKind tag on every event.
package pubsub

import "sync"

// EventKind identifies what changed.
type EventKind string

const (
	NodeAdded       EventKind = "NODE_ADDED"
	NodeRemoved     EventKind = "NODE_REMOVED"
	NodeUpdated     EventKind = "NODE_UPDATED"
	UniverseChanged EventKind = "UNIVERSE_CHANGED"
)

// Event is one notification delivered to subscribers. The scheduler
// publishes a node.ID for the Node* kinds and an artnet.PortAddress for
// UniverseChanged; callers type-assert based on Kind.
type Event struct {
	Kind    EventKind
	Payload interface{}
}

// Subscriber is a single subscription's delivery channel.
type Subscriber struct {
	id      int
	Channel chan Event
}

// PubSub is a single shared fan-out point for Event notifications.
type PubSub struct {
	mu          sync.RWMutex
	subscribers []*Subscriber
	nextID      int
}

// New creates an empty PubSub.
func New() *PubSub {
	return &PubSub{}
}

// Subscribe registers a new Subscriber with the given channel buffer size.
func (ps *PubSub) Subscribe(bufferSize int) *Subscriber {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.nextID++
	sub := &Subscriber{id: ps.nextID, Channel: make(chan Event, bufferSize)}
	ps.subscribers = append(ps.subscribers, sub)
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (ps *PubSub) Unsubscribe(sub *Subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for i, s := range ps.subscribers {
		if s.id == sub.id {
			close(s.Channel)
			ps.subscribers = append(ps.subscribers[:i], ps.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers an Event to every subscriber, dropping it for any
// subscriber whose channel is full rather than blocking the caller.
func (ps *PubSub) Publish(evt Event) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, sub := range ps.subscribers {
		select {
		case sub.Channel <- evt:
		default:
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (ps *PubSub) SubscriberCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers)
}
