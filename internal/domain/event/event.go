package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// Kind is the closed set of telemetry event categories a collector can emit.
type Kind string

const (
	KindView       Kind = "view"
	KindResource   Kind = "resource"
	KindError      Kind = "error"
	KindLongTask   Kind = "long_task"
	KindUserAction Kind = "user_action"
	KindLog        Kind = "log"
)

var kinds = map[Kind]struct{}{
	KindView:       {},
	KindResource:   {},
	KindError:      {},
	KindLongTask:   {},
	KindUserAction: {},
	KindLog:        {},
}

// ParseKind validates a wire value against the closed set.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("event: unknown kind %q", s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }

// IsResource reports whether the kind is gated by session resource tracking.
func (k Kind) IsResource() bool { return k == KindResource }

// Event is a tagged record emitted by a collector.
//
// [OWNERSHIP] Immutable once handed to the bus. Subscribers get it by value and must
// treat Payload as read-only; enrichment happens on merged copies.
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	StartTime time.Duration // [MONOTONIC] Offset from the pipeline origin, never wall time.
	Payload   model.Context
}

// New stamps a fresh ID on a collector triple.
func New(kind Kind, startTime time.Duration, payload model.Context) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		StartTime: startTime,
		Payload:   payload,
	}
}

// Collected is the bus payload for a raw event on its way to the assembler.
//
// SavedGlobalContext, when set, pins the global layer captured at emission time instead of
// the snapshot current at assembly time. CustomerContext is the per-event layer.
type Collected struct {
	Event              Event
	SavedGlobalContext model.Context
	CustomerContext    model.Context
}
