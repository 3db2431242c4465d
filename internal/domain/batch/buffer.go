/*
Package batch accumulates serialized telemetry records and decides when they are handed to
the transport.

Byte accounting happens at admission time: the wire format joins records with a single
separator byte, so a buffer holding n records that admits one more produces a payload of
totalBytes + recordBytes + n bytes. When that would reach the limit the buffer flushes first.
*/
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// Sender receives the ordered records of one flush. Send runs under the buffer lock so
// batches keep admission order; implementations must not block on network completion and
// must not call back into the buffer.
type Sender interface {
	Send(payload []string)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(payload []string)

func (f SenderFunc) Send(payload []string) { f(payload) }

// Buffer is a count- and size-bounded accumulator bound to one destination.
type Buffer struct {
	name           string
	sender         Sender
	logger         *slog.Logger
	onFlush        func(model.FlushReport)
	maxCount       int
	bytesLimit     int
	maxMessageSize int
	flushInterval  time.Duration

	// [STATE] Mutated only by Add and Flush under mu.
	mu         sync.Mutex
	items      []string
	totalBytes int

	flushes      uint64
	flushedItems uint64
	oversized    uint64
	dropped      uint64

	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewBuffer creates an empty buffer that flushes through sender.
func NewBuffer(sender Sender, opts ...Option) *Buffer {
	b := &Buffer{
		sender:     sender,
		logger:     slog.New(slog.DiscardHandler),
		maxCount:   DefaultMaxCount,
		bytesLimit: DefaultBytesLimit,
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.items = make([]string, 0, b.maxCount)
	return b
}

// Add admits one serialized record, flushing before admission when the accumulated payload
// would reach the byte limit and after admission when the count limit is hit.
//
// A record that alone reaches the limit is still appended after everything else has been
// flushed; the limit bounds accumulation, not single records.
func (b *Buffer) Add(record string) {
	b.notify(b.add(record))
}

func (b *Buffer) add(record string) []model.FlushReport {
	recordBytes := SizeInBytes(record)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxMessageSize > 0 && recordBytes > b.maxMessageSize {
		b.dropped++
		b.logger.Warn("BATCH_RECORD_DROPPED",
			"destination", b.name,
			"bytes", recordBytes,
			"max_message_size", b.maxMessageSize,
		)
		return nil
	}

	var reports []model.FlushReport
	if b.willReachBytesLimitWith(recordBytes) {
		reports = b.appendFlush(reports)
	}

	if recordBytes >= b.bytesLimit {
		b.oversized++
		b.logger.Warn("BATCH_OVERSIZED_RECORD",
			"destination", b.name,
			"bytes", recordBytes,
			"bytes_limit", b.bytesLimit,
		)
	}

	b.items = append(b.items, record)
	b.totalBytes += recordBytes

	if len(b.items) >= b.maxCount {
		reports = b.appendFlush(reports)
	}
	return reports
}

// Flush hands every buffered record to the sender in admission order and resets the buffer.
// Flushing an empty buffer does nothing.
func (b *Buffer) Flush() {
	b.mu.Lock()
	reports := b.appendFlush(nil)
	b.mu.Unlock()

	b.notify(reports)
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Stats returns a copy of the buffer counters.
func (b *Buffer) Stats() model.BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.BufferStats{
		Items:        len(b.items),
		Bytes:        b.payloadBytesLocked(),
		MaxCount:     b.maxCount,
		BytesLimit:   b.bytesLimit,
		Flushes:      b.flushes,
		FlushedItems: b.flushedItems,
		Oversized:    b.oversized,
		Dropped:      b.dropped,
	}
}

// Start runs the periodic flush loop when a flush interval is configured. The loop ends
// when ctx is cancelled or Stop is called.
func (b *Buffer) Start(ctx context.Context) {
	if b.flushInterval <= 0 {
		return
	}
	go b.loop(ctx)
}

// Stop terminates the periodic flush loop. It does not flush.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() { close(b.doneCh) })
}

func (b *Buffer) loop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.doneCh:
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// willReachBytesLimitWith counts one separator per already buffered record: n+1 records
// are joined by n separators.
func (b *Buffer) willReachBytesLimitWith(recordBytes int) bool {
	separatorsBytes := len(b.items)
	return b.totalBytes+recordBytes+separatorsBytes >= b.bytesLimit
}

func (b *Buffer) payloadBytesLocked() int {
	if len(b.items) == 0 {
		return 0
	}
	return b.totalBytes + len(b.items) - 1
}

// appendFlush flushes under the lock and appends the report of a non-empty flush.
func (b *Buffer) appendFlush(reports []model.FlushReport) []model.FlushReport {
	if len(b.items) == 0 {
		return reports
	}

	payload := b.items
	report := model.FlushReport{
		Destination: b.name,
		Items:       len(payload),
		Bytes:       b.payloadBytesLocked(),
	}

	// [RESET] Fresh backing array: the sender owns payload from here on.
	b.items = make([]string, 0, b.maxCount)
	b.totalBytes = 0
	b.flushes++
	b.flushedItems += uint64(len(payload))

	b.sender.Send(payload)
	return append(reports, report)
}

// notify runs the flush observer outside the lock, so it may add records re-entrantly.
func (b *Buffer) notify(reports []model.FlushReport) {
	if b.onFlush == nil {
		return
	}
	for _, r := range reports {
		b.onFlush(r)
	}
}
