package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

func newTelemetry(t *testing.T) (*Telemetry, *pipeline) {
	t.Helper()
	session := NewFixedSession(true, true)
	p := newPipeline(t, session)
	return NewTelemetry(p.bus, p.router, p.store, session, p.strategy, p.clock), p
}

func TestTelemetryAddEventPublishesCollected(t *testing.T) {
	tel, p := newTelemetry(t)

	var got []event.Collected
	sub := p.bus.Subscribe(bus.RawEventCollected, func(data any) {
		got = append(got, data.(event.Collected))
	})
	defer sub.Unsubscribe()

	payload := model.Context{"message": "hi"}
	id := tel.AddEvent(event.KindLog, payload, model.Context{"c": 1})
	payload["message"] = "mutated"

	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].Event.ID)
	assert.Equal(t, "hi", got[0].Event.Payload["message"])
	assert.Equal(t, model.Context{"team": "core"}, got[0].SavedGlobalContext)
	assert.Equal(t, model.Context{"c": 1}, got[0].CustomerContext)
	assert.Equal(t, 1, p.primary.Buffer.Len())
}

func TestTelemetryAddEventAtKeepsStartTime(t *testing.T) {
	tel, p := newTelemetry(t)

	tel.AddEventAt(event.KindError, 2*time.Second, model.Context{"message": "x"}, nil)

	rec := p.flushed(t)[0]
	assert.EqualValues(t, p.clock.Date(2*time.Second).UnixMilli(), rec["date"])
}

func TestTelemetryGlobalContextIsPinnedAtEmission(t *testing.T) {
	tel, p := newTelemetry(t)

	tel.SetGlobalContext(model.Context{"release": "r1"})
	tel.AddEvent(event.KindLog, nil, nil)
	tel.AddGlobalContextEntry("release", "r2")
	tel.AddEvent(event.KindLog, nil, nil)
	tel.RemoveGlobalContextEntry("release")
	tel.AddEvent(event.KindLog, nil, nil)

	records := p.flushed(t)
	require.Len(t, records, 3)
	assert.Equal(t, "r1", records[0]["release"])
	assert.Equal(t, "r2", records[1]["release"])
	assert.NotContains(t, records[2], "release")
	assert.Empty(t, tel.GlobalContext())
}

func TestTelemetryFlushAndStats(t *testing.T) {
	tel, p := newTelemetry(t)

	tel.AddEvent(event.KindLog, model.Context{"m": 1}, nil)

	stats := tel.Stats()
	assert.Equal(t, "capture", stats.Strategy)
	assert.True(t, stats.Tracked)
	require.Len(t, stats.Destinations, 1)
	assert.Equal(t, 1, stats.Destinations[0].Items)

	tel.Flush()
	assert.Len(t, p.strategy.Calls(), 1)
	assert.Equal(t, 0, tel.Stats().Destinations[0].Items)
}

func TestTelemetrySignalReachesBus(t *testing.T) {
	tel, p := newTelemetry(t)

	var states []event.VisibilityState
	sub := p.bus.Subscribe(bus.VisibilityChanged, func(data any) {
		states = append(states, data.(event.VisibilityState))
	})
	defer sub.Unsubscribe()

	tel.Signal(bus.VisibilityChanged, event.Hidden)
	assert.Equal(t, []event.VisibilityState{event.Hidden}, states)
}

func TestTrackerMiddlewareDelegates(t *testing.T) {
	tel, p := newTelemetry(t)
	var tr Tracker = NewTrackerMiddleware(tel, discard)

	tr.AddGlobalContextEntry("k", "v")
	id := tr.AddEvent(event.KindLog, nil, nil)
	tr.Flush()

	records := p.flushed(t)
	require.Len(t, records, 1)
	assert.Equal(t, id.String(), records[0]["id"])
	assert.Equal(t, "v", records[0]["k"])
	assert.Equal(t, model.Context{"team": "core", "k": "v"}, tr.GlobalContext())
}

func TestTelemetryAddEventCopiesTypedPayloadValues(t *testing.T) {
	tel, p := newTelemetry(t)

	var got []event.Collected
	sub := p.bus.Subscribe(bus.RawEventCollected, func(data any) {
		got = append(got, data.(event.Collected))
	})
	defer sub.Unsubscribe()

	tags := []string{"checkout"}
	attrs := map[string]string{"step": "pay"}
	tel.AddEvent(event.KindUserAction, model.Context{"tags": tags}, model.Context{"attrs": attrs})
	tags[0] = "mutated"
	attrs["step"] = "mutated"

	require.Len(t, got, 1)
	assert.Equal(t, []string{"checkout"}, got[0].Event.Payload["tags"])
	assert.Equal(t, map[string]any{"step": "pay"}, got[0].CustomerContext["attrs"])
}
