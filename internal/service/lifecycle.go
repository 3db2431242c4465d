package service

import (
	"log/slog"
	"sync"

	"github.com/webitel/telemetry-pipeline/internal/adapter/transport"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
)

// Flusher drains every pending batch.
type Flusher interface {
	FlushAll()
}

// FlushTrigger flushes all destinations when the host is about to be backgrounded or
// torn down.
//
// [TEARDOWN_SAFETY] Installed only when the transport survives teardown. Otherwise the
// trigger stays inert and pending events wait for the next regular flush.
type FlushTrigger struct {
	flusher  Flusher
	strategy transport.Strategy
	logger   *slog.Logger

	mu   sync.Mutex
	subs []bus.Subscription
}

func NewFlushTrigger(flusher Flusher, strategy transport.Strategy, logger *slog.Logger) *FlushTrigger {
	return &FlushTrigger{
		flusher:  flusher,
		strategy: strategy,
		logger:   logger,
	}
}

// Install subscribes to lifecycle signals. It reports whether the trigger is active.
func (t *FlushTrigger) Install(b bus.EventBus) bool {
	if !t.strategy.TeardownSafe() {
		t.logger.Info("FLUSH_TRIGGER_SKIPPED", "strategy", t.strategy.Name())
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) > 0 {
		return true
	}

	t.subs = append(t.subs,
		b.Subscribe(bus.VisibilityChanged, func(data any) {
			if state, ok := data.(event.VisibilityState); ok && state == event.Hidden {
				t.Flush("visibility_hidden")
			}
		}),
		b.Subscribe(bus.BeforeUnload, func(any) {
			t.Flush("before_unload")
		}),
	)
	t.logger.Info("FLUSH_TRIGGER_INSTALLED", "strategy", t.strategy.Name())
	return true
}

// Uninstall removes the lifecycle subscriptions.
func (t *FlushTrigger) Uninstall() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Installed reports whether lifecycle subscriptions are active.
func (t *FlushTrigger) Installed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs) > 0
}

// Flush drains every destination once.
func (t *FlushTrigger) Flush(reason string) {
	t.logger.Debug("LIFECYCLE_FLUSH", "reason", reason)
	t.flusher.FlushAll()
}
