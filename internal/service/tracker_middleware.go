package service

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// TrackerMiddleware implements [DECORATOR_PATTERN] to add observability
// to the tracker without touching pipeline logic.
type TrackerMiddleware struct {
	Next   Tracker
	Logger *slog.Logger
}

// NewTrackerMiddleware creates a new logging decorator for the Tracker.
func NewTrackerMiddleware(next Tracker, logger *slog.Logger) Tracker {
	return &TrackerMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *TrackerMiddleware) AddEvent(kind event.Kind, payload, customer model.Context) uuid.UUID {
	id := m.Next.AddEvent(kind, payload, customer)
	m.Logger.Debug("EVENT_COLLECTED", "id", id, "kind", kind)
	return id
}

func (m *TrackerMiddleware) AddEventAt(kind event.Kind, startTime time.Duration, payload, customer model.Context) uuid.UUID {
	id := m.Next.AddEventAt(kind, startTime, payload, customer)
	m.Logger.Debug("EVENT_COLLECTED",
		"id", id,
		"kind", kind,
		"start_time_ms", startTime.Milliseconds(),
	)
	return id
}

func (m *TrackerMiddleware) GlobalContext() model.Context { return m.Next.GlobalContext() }

func (m *TrackerMiddleware) SetGlobalContext(ctx model.Context) {
	m.Next.SetGlobalContext(ctx)
	m.Logger.Info("GLOBAL_CONTEXT_REPLACED", "keys", len(ctx))
}

func (m *TrackerMiddleware) AddGlobalContextEntry(key string, value any) {
	m.Next.AddGlobalContextEntry(key, value)
	m.Logger.Debug("GLOBAL_CONTEXT_ENTRY_SET", "key", key)
}

func (m *TrackerMiddleware) RemoveGlobalContextEntry(key string) {
	m.Next.RemoveGlobalContextEntry(key)
	m.Logger.Debug("GLOBAL_CONTEXT_ENTRY_REMOVED", "key", key)
}

func (m *TrackerMiddleware) Signal(topic bus.Topic, data any) {
	m.Logger.Info("LIFECYCLE_SIGNAL", "topic", topic)
	m.Next.Signal(topic, data)
}

// Flush wraps the manual flush with execution timing.
func (m *TrackerMiddleware) Flush() {
	start := time.Now()
	m.Next.Flush()
	m.Logger.Info("MANUAL_FLUSH_COMPLETED", "duration_ms", time.Since(start).Milliseconds())
}

func (m *TrackerMiddleware) Stats() model.PipelineStats { return m.Next.Stats() }
