package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/HUB)
// One connector backs one client session; the transport drains Recv.
type Connector interface {
	GetID() uuid.UUID
	Send(frame []byte, timeout time.Duration) bool // Thread-safe send with backpressure handling
	Recv() <-chan []byte
	Done() <-chan struct{}
	Dropped() uint64
	Close() // Terminate connection and release resources
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id     uuid.UUID
	sendCh chan []byte
	doneCh chan struct{}

	// [PROTECTION] sendCh is never closed: Close only signals doneCh, so a concurrent
	// Send can never hit a closed channel.
	closeOnce sync.Once

	droppedCount atomic.Uint64
}

// [NEW_CONNECTOR] FACTORY FUNCTION
func NewConnector(bufferSize int) Connector {
	return &connect{
		id:     uuid.New(),
		sendCh: make(chan []byte, bufferSize),
		doneCh: make(chan struct{}),
	}
}

func (c *connect) GetID() uuid.UUID      { return c.id }
func (c *connect) Recv() <-chan []byte   { return c.sendCh }
func (c *connect) Done() <-chan struct{} { return c.doneCh }
func (c *connect) Dropped() uint64       { return c.droppedCount.Load() }

// Send enqueues a frame, waiting at most timeout for buffer space.
func (c *connect) Send(frame []byte, timeout time.Duration) bool {
	// 1. [LIFECYCLE_GATE] Immediately abort if the session is already closed.
	select {
	case <-c.doneCh:
		return false
	default:
	}

	// 2. [FAST_PATH] Most sends find room immediately.
	select {
	case c.sendCh <- frame:
		return true
	default:
	}

	if timeout <= 0 {
		c.droppedCount.Add(1)
		return false
	}

	// 3. [BACKPRESSURE_THRESHOLD] Wait for the slow consumer, then shed the frame.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.doneCh:
		return false
	case c.sendCh <- frame:
		return true
	case <-timer.C:
		c.droppedCount.Add(1)
		return false
	}
}

// Close terminates the session. Safe to call more than once.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		close(c.doneCh)
	})
}
