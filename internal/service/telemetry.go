package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/webitel/telemetry-pipeline/internal/adapter/transport"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// [TRACKER] PRIMARY INTERFACE FOR INGRESS HANDLERS (HTTP/Websocket)
type Tracker interface {
	// AddEvent stamps the event with the current monotonic offset and publishes it.
	AddEvent(kind event.Kind, payload, customer model.Context) uuid.UUID
	// AddEventAt publishes an event whose start offset is already known.
	AddEventAt(kind event.Kind, startTime time.Duration, payload, customer model.Context) uuid.UUID

	GlobalContext() model.Context
	SetGlobalContext(ctx model.Context)
	AddGlobalContextEntry(key string, value any)
	RemoveGlobalContextEntry(key string)

	// Signal forwards a host lifecycle notification onto the bus.
	Signal(topic bus.Topic, data any)
	Flush()
	Stats() model.PipelineStats
}

var _ Tracker = (*Telemetry)(nil)

// Telemetry is the collector-facing entry point of the pipeline.
type Telemetry struct {
	bus      bus.EventBus
	router   *Router
	store    *GlobalContextStore
	session  SessionProvider
	strategy transport.Strategy
	clock    *Clock
}

func NewTelemetry(
	b bus.EventBus,
	router *Router,
	store *GlobalContextStore,
	session SessionProvider,
	strategy transport.Strategy,
	clock *Clock,
) *Telemetry {
	return &Telemetry{
		bus:      b,
		router:   router,
		store:    store,
		session:  session,
		strategy: strategy,
		clock:    clock,
	}
}

func (t *Telemetry) AddEvent(kind event.Kind, payload, customer model.Context) uuid.UUID {
	return t.AddEventAt(kind, t.clock.Now(), payload, customer)
}

func (t *Telemetry) AddEventAt(kind event.Kind, startTime time.Duration, payload, customer model.Context) uuid.UUID {
	// [OWNERSHIP] The caller may keep mutating its maps after this returns.
	ev := event.New(kind, startTime, model.Clone(payload))

	t.bus.Notify(bus.RawEventCollected, event.Collected{
		Event:              ev,
		SavedGlobalContext: t.store.Snapshot(),
		CustomerContext:    model.Clone(customer),
	})
	return ev.ID
}

func (t *Telemetry) GlobalContext() model.Context          { return t.store.Snapshot() }
func (t *Telemetry) SetGlobalContext(ctx model.Context)    { t.store.Set(ctx) }
func (t *Telemetry) AddGlobalContextEntry(k string, v any) { t.store.Add(k, v) }
func (t *Telemetry) RemoveGlobalContextEntry(k string)     { t.store.Remove(k) }

func (t *Telemetry) Signal(topic bus.Topic, data any) {
	t.bus.Notify(topic, data)
}

// Flush drains every destination regardless of the transport strategy.
func (t *Telemetry) Flush() {
	t.router.FlushAll()
}

func (t *Telemetry) Stats() model.PipelineStats {
	return model.PipelineStats{
		Uptime:       t.clock.Now(),
		Strategy:     t.strategy.Name(),
		Tracked:      t.session.IsTracked(),
		Destinations: t.router.Stats(),
	}
}
