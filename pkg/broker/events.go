package broker

import "sync"

// EventKind enumerates the well-known event categories a broker emits,
// per spec.md §6's "event stream" surface.
type EventKind string

const (
	EventBrokerStarted EventKind = "broker:started"
	EventBrokerStopped EventKind = "broker:stopped"
	EventBrokerError   EventKind = "broker:error"

	EventConnectionOpen  EventKind = "connection:open"
	EventConnectionClose EventKind = "connection:close"
	EventConnectionError EventKind = "connection:error"

	EventChannelOpen  EventKind = "channel:open"
	EventChannelClose EventKind = "channel:close"
	EventChannelFlow  EventKind = "channel:flow"

	EventExchangeCreated EventKind = "exchange:created"
	EventExchangeDeleted EventKind = "exchange:deleted"

	EventQueueCreated EventKind = "queue:created"
	EventQueueDeleted EventKind = "queue:deleted"
	EventQueuePurged  EventKind = "queue:purged"

	EventBindingCreated EventKind = "binding:created"
	EventBindingDeleted EventKind = "binding:deleted"

	EventConsumerCreated   EventKind = "consumer:created"
	EventConsumerCancelled EventKind = "consumer:cancelled"

	EventMessagePublished EventKind = "message:published"
	EventMessageRouted    EventKind = "message:routed"
	EventMessageDelivered EventKind = "message:delivered"
	EventMessageAcked     EventKind = "message:acked"
	EventMessageNacked    EventKind = "message:nacked"
	EventMessageRejected  EventKind = "message:rejected"
	EventMessageReturned  EventKind = "message:returned"
	EventMessageExpired   EventKind = "message:expired"
)

// Event is a single broadcast emission. Data's concrete type depends on
// Kind; subscribers that care about a particular kind type-assert it.
type Event struct {
	Kind EventKind
	Data any
}

// eventBroadcastDepth bounds each subscriber's mailbox. Per spec.md §9,
// the emitter must never backpressure the broker; a full subscriber
// simply drops the event rather than blocking the publisher.
const eventBroadcastDepth = 256

// EventBus is a fire-and-forget, multi-subscriber broadcaster. It never
// blocks the broker while it holds its lock: Publish drops the event for any
// subscriber whose mailbox is full instead of waiting.
type EventBus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and an unsubscribe function.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, eventBroadcastDepth)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish broadcasts an event to every current subscriber, dropping it
// for any subscriber that isn't keeping up.
func (b *EventBus) Publish(kind EventKind, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev := Event{Kind: kind, Data: data}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
