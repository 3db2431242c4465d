/*
Package bus provides the in-process publish/subscribe registry that decouples telemetry
collectors from the consumers that assemble and batch their events.

Key properties:
  - Synchronous: Notify returns only after every handler has run. There is no queue.
  - Ordered: handlers run in subscription order.
  - Snapshot delivery: the subscriber list is copied before iteration, so subscribing or
    unsubscribing from inside a handler only affects later notifications.
  - Isolation: a panicking handler is recovered and logged at the bus boundary; the
    remaining handlers still run and the producer never observes the failure.
*/
package bus

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// Topic identifies a class of notifications on the bus.
type Topic string

const (
	// RawEventCollected carries an event.Collected from a collector to the assembler.
	RawEventCollected Topic = "raw_event_collected"
	// VisibilityChanged carries an event.VisibilityState.
	VisibilityChanged Topic = "visibility_changed"
	// BeforeUnload signals imminent teardown of the host runtime. Data is nil.
	BeforeUnload Topic = "before_unload"
	// BatchFlushed carries a model.FlushReport after a non-empty buffer flush. It is
	// published outside the buffer lock; handlers may emit new events.
	BatchFlushed Topic = "batch_flushed"
)

// Handler receives the data passed to Notify by reference. It must not block on I/O.
type Handler func(data any)

// Subscription is the token returned by Subscribe.
type Subscription struct {
	id    uuid.UUID
	topic Topic
	bus   *Bus
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.Unsubscribe(s)
	}
}

// EventBus is the contract consumed by collectors, assemblers and lifecycle triggers.
type EventBus interface {
	Subscribe(topic Topic, h Handler) Subscription
	Unsubscribe(sub Subscription)
	Notify(topic Topic, data any)
}

var _ EventBus = (*Bus)(nil)

type subscriber struct {
	id      uuid.UUID
	handler Handler
}

// Bus is the default EventBus.
type Bus struct {
	// [CONCURRENCY_CONTROL]
	// Guards the registry only. Handlers are invoked outside the lock so they may
	// subscribe, unsubscribe or notify re-entrantly.
	mu     sync.RWMutex
	topics map[Topic][]subscriber
	logger *slog.Logger
}

// New creates an empty bus. A nil logger discards handler failure reports.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		topics: make(map[Topic][]subscriber),
		logger: logger,
	}
}

func (b *Bus) Subscribe(topic Topic, h Handler) Subscription {
	sub := subscriber{id: uuid.New(), handler: h}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	return Subscription{id: sub.id, topic: topic, bus: b}
}

func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[s.topic]
	for i, sub := range subs {
		if sub.id != s.id {
			continue
		}
		// [COPY_ON_WRITE] Build a new slice so in-flight snapshots keep their view.
		next := make([]subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.topics, s.topic)
		} else {
			b.topics[s.topic] = next
		}
		return
	}
}

// Notify invokes every handler subscribed to topic at the time of the call.
func (b *Bus) Notify(topic Topic, data any) {
	b.mu.RLock()
	snapshot := b.topics[topic]
	b.mu.RUnlock()

	for _, sub := range snapshot {
		b.invoke(topic, sub, data)
	}
}

// SubscriberCount reports the number of live handlers for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) invoke(topic Topic, sub subscriber, data any) {
	// [PANIC_RECOVERY] One broken consumer must not starve the others.
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("BUS_HANDLER_PANIC",
				"topic", topic,
				"subscription_id", sub.id,
				"err", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	sub.handler(data)
}
