package batch

import (
	"log/slog"
	"time"

	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

const (
	DefaultMaxCount   = 50
	DefaultBytesLimit = 16 * 1024
)

// Option defines a functional configuration type for the Buffer.
type Option func(*Buffer)

// WithMaxCount sets the item count that forces a flush right after admission.
func WithMaxCount(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxCount = n
		}
	}
}

// WithBytesLimit sets the accumulated payload size (records plus separators) that
// forces a pre-emptive flush before admission.
func WithBytesLimit(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.bytesLimit = n
		}
	}
}

// WithMaxMessageSize drops single records larger than n bytes. Zero disables the check.
func WithMaxMessageSize(n int) Option {
	return func(b *Buffer) {
		b.maxMessageSize = n
	}
}

// WithFlushInterval enables the periodic [IDLE_FLUSH] started by Start.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Buffer) {
		b.flushInterval = d
	}
}

// WithName labels the buffer in logs and flush reports.
func WithName(name string) Option {
	return func(b *Buffer) {
		b.name = name
	}
}

// WithLogger sets the logger used for oversize and drop warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithFlushObserver registers a callback invoked after each non-empty flush, once the
// buffer lock is released.
func WithFlushObserver(fn func(model.FlushReport)) Option {
	return func(b *Buffer) {
		b.onFlush = fn
	}
}
