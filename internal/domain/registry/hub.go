/*
Package registry tracks the live client sessions attached to the agent and fans
server-side notifications out to them.

Key Architectural Concepts:
  - Mailbox: Broadcast never blocks. Frames are queued into the hub mailbox and a single
    background goroutine delivers them.
  - Backpressure: each session has its own bounded queue; a slow session sheds frames
    (counted per connector) instead of stalling the others.
  - Concurrency Management: sessions live in a sync.Map for lock-free iteration.
*/
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMailboxSize = 256
	defaultSendTimeout = 50 * time.Millisecond
)

// Hubber defines the gateway for session management and notification fan-out.
type Hubber interface {
	Broadcast(frame []byte) bool
	Register(conn Connector)
	Unregister(connID uuid.UUID)
	Count() int
	Shutdown()
}

var _ Hubber = (*Hub)(nil)

type hubConfig struct {
	mailboxSize int
	sendTimeout time.Duration
}

// Hub implements a [SESSION_REGISTRY] with a single delivery actor.
type Hub struct {
	config hubConfig

	// sessions stores Map[uuid.UUID]Connector. Optimized for [READ_HEAVY] workloads.
	sessions sync.Map
	count    atomic.Int64

	// [MAILBOX]
	// Decouples producers from per-session delivery.
	mailbox chan []byte
	dropped atomic.Uint64

	// [LIFECYCLE_CONTROL]
	stopOnce sync.Once
	doneCh   chan struct{}
	loopDone chan struct{}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			mailboxSize: defaultMailboxSize,
			sendTimeout: defaultSendTimeout,
		},
		doneCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.mailbox = make(chan []byte, h.config.mailboxSize)

	go h.loop()
	return h
}

// Register attaches a session.
func (h *Hub) Register(conn Connector) {
	if _, loaded := h.sessions.LoadOrStore(conn.GetID(), conn); !loaded {
		h.count.Add(1)
	}
}

// Unregister performs [GRACEFUL_RECLAMATION] of a finished session.
func (h *Hub) Unregister(connID uuid.UUID) {
	if val, ok := h.sessions.LoadAndDelete(connID); ok {
		h.count.Add(-1)
		val.(Connector).Close()
	}
}

// Count returns the number of attached sessions.
func (h *Hub) Count() int { return int(h.count.Load()) }

// Dropped returns the number of frames refused because the mailbox was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Broadcast queues a frame for every session. Returns false on overflow or after Shutdown.
func (h *Hub) Broadcast(frame []byte) bool {
	select {
	case <-h.doneCh:
		return false
	default:
	}

	select {
	case h.mailbox <- frame:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

func (h *Hub) loop() {
	defer close(h.loopDone)
	for {
		select {
		case <-h.doneCh:
			return
		case frame := <-h.mailbox:
			h.deliver(frame)
		}
	}
}

func (h *Hub) deliver(frame []byte) {
	h.sessions.Range(func(_, val any) bool {
		val.(Connector).Send(frame, h.config.sendTimeout)
		return true
	})
}

// Shutdown stops the delivery actor and closes every session.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.doneCh)
		<-h.loopDone

		h.sessions.Range(func(key, _ any) bool {
			h.Unregister(key.(uuid.UUID))
			return true
		})
	})
}
