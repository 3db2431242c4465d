package service

import (
	"fmt"
	"log/slog"

	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// EventSink receives assembled events. *Router is the production sink.
type EventSink interface {
	Add(ev event.Event, layers ...model.Context)
}

// Assembler turns raw collected events into context-layered records.
//
// Layer precedence, lowest first: base (service identity), global, session, view,
// customer, timing. The router then applies the payload and the event identity.
type Assembler struct {
	base    model.Context
	clock   *Clock
	globals ContextProvider
	session SessionProvider
	views   *ViewHistory
	sink    EventSink
	logger  *slog.Logger
	sub     bus.Subscription
}

// AssemblerConfig carries the static identity stamped on every record.
type AssemblerConfig struct {
	Service       string
	ApplicationID string
	Env           string
	Version       string
}

func NewAssembler(cfg AssemblerConfig, clock *Clock, globals ContextProvider, session SessionProvider, views *ViewHistory, sink EventSink, logger *slog.Logger) *Assembler {
	base := model.Context{"service": cfg.Service}
	if cfg.ApplicationID != "" {
		base["application"] = map[string]any{"id": cfg.ApplicationID}
	}
	if cfg.Env != "" {
		base["env"] = cfg.Env
	}
	if cfg.Version != "" {
		base["version"] = cfg.Version
	}
	return &Assembler{
		base:    base,
		clock:   clock,
		globals: globals,
		session: session,
		views:   views,
		sink:    sink,
		logger:  logger,
	}
}

// Start subscribes the assembler to raw events.
func (a *Assembler) Start(b bus.EventBus) {
	a.sub = b.Subscribe(bus.RawEventCollected, a.handle)
}

// Stop detaches the assembler from the bus.
func (a *Assembler) Stop() {
	a.sub.Unsubscribe()
}

func (a *Assembler) handle(data any) {
	collected, ok := data.(event.Collected)
	if !ok {
		a.logger.Warn("ASSEMBLER_UNEXPECTED_PAYLOAD", "type", fmt.Sprintf("%T", data))
		return
	}
	a.Assemble(collected)
}

// Assemble applies session gating and forwards the layered event to the sink.
func (a *Assembler) Assemble(c event.Collected) {
	ev := c.Event

	// [SESSION_GATE] Untracked sessions send nothing; resource events additionally
	// require resource tracking.
	if !a.session.IsTracked() {
		return
	}
	if ev.Kind.IsResource() && !a.session.IsTrackedWithResource() {
		return
	}

	if ev.Kind == event.KindView {
		a.recordView(ev)
	}

	globals := c.SavedGlobalContext
	if globals == nil {
		globals = a.globals.Snapshot()
	}

	a.sink.Add(ev,
		a.base,
		globals,
		a.session.Snapshot(),
		a.views.FindView(ev.StartTime),
		c.CustomerContext,
		model.Context{"date": a.clock.Date(ev.StartTime).UnixMilli()},
	)
}

// recordView keeps the view layer current so later events inherit it.
func (a *Assembler) recordView(ev event.Event) {
	view := ev.Payload.Object("view")
	id, _ := view["id"].(string)
	if id == "" {
		id = ev.ID.String()
	}

	layer := map[string]any{"id": id}
	for _, key := range []string{"url", "referrer", "name"} {
		if v, ok := view[key]; ok {
			layer[key] = v
		}
	}
	a.views.Record(id, ev.StartTime, model.Context{"view": layer})
}
