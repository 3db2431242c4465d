package httphandler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
	"github.com/webitel/telemetry-pipeline/internal/handler/marshaller"
	"github.com/webitel/telemetry-pipeline/internal/service"
)

// MaxBodyBytes bounds every ingress request body.
const MaxBodyBytes = 1 << 20

const (
	lifecycleHidden  = "hidden"
	lifecycleVisible = "visible"
	lifecycleUnload  = "unload"
)

// EventsResponse acknowledges accepted events.
type EventsResponse struct {
	IDs []uuid.UUID `json:"ids"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	tracker service.Tracker
	logger  *slog.Logger
}

func NewHandler(tracker service.Tracker, logger *slog.Logger) *Handler {
	return &Handler{
		tracker: tracker,
		logger:  logger,
	}
}

// Routes mounts the ingress API.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.PostEvents)

		r.Get("/context", h.GetContext)
		r.Put("/context", h.PutContext)
		r.Put("/context/{key}", h.PutContextEntry)
		r.Delete("/context/{key}", h.DeleteContextEntry)

		r.Post("/lifecycle/{state}", h.PostLifecycle)
		r.Post("/flush", h.PostFlush)
		r.Get("/stats", h.GetStats)
	})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// PostEvents accepts one JSON event or newline-delimited events. Session gating is
// applied downstream, so untracked events are accepted and silently dropped.
func (h *Handler) PostEvents(w http.ResponseWriter, r *http.Request) {
	events, err := marshaller.DecodeEvents(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	res := EventsResponse{IDs: make([]uuid.UUID, 0, len(events))}
	for _, ev := range events {
		res.IDs = append(res.IDs, Track(h.tracker, ev))
	}
	h.write(w, http.StatusAccepted, res)
}

// Track hands a decoded event to the tracker.
func Track(t service.Tracker, ev marshaller.InboundEvent) uuid.UUID {
	if ev.StartTime != nil {
		return t.AddEventAt(ev.Kind, *ev.StartTime, ev.Payload, ev.Customer)
	}
	return t.AddEvent(ev.Kind, ev.Payload, ev.Customer)
}

func (h *Handler) GetContext(w http.ResponseWriter, _ *http.Request) {
	ctx := h.tracker.GlobalContext()
	if ctx == nil {
		ctx = model.Context{}
	}
	h.write(w, http.StatusOK, ctx)
}

func (h *Handler) PutContext(w http.ResponseWriter, r *http.Request) {
	var ctx model.Context
	if err := h.decode(w, r, &ctx); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	h.tracker.SetGlobalContext(ctx)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PutContextEntry(w http.ResponseWriter, r *http.Request) {
	var value any
	if err := h.decode(w, r, &value); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	h.tracker.AddGlobalContextEntry(chi.URLParam(r, "key"), value)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteContextEntry(w http.ResponseWriter, r *http.Request) {
	h.tracker.RemoveGlobalContextEntry(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}

// PostLifecycle relays a host lifecycle signal onto the bus.
func (h *Handler) PostLifecycle(w http.ResponseWriter, r *http.Request) {
	switch state := chi.URLParam(r, "state"); state {
	case lifecycleHidden, lifecycleVisible:
		vs, _ := event.ParseVisibility(state)
		h.tracker.Signal(bus.VisibilityChanged, vs)
	case lifecycleUnload:
		h.tracker.Signal(bus.BeforeUnload, nil)
	default:
		h.fail(w, http.StatusBadRequest, errors.New("unknown lifecycle state "+state))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PostFlush(w http.ResponseWriter, _ *http.Request) {
	h.tracker.Flush()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetStats(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, h.tracker.Stats())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("HTTP_RESPONSE_MARSHAL_FAILED", "err", err)
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (h *Handler) fail(w http.ResponseWriter, status int, err error) {
	h.logger.Debug("HTTP_REQUEST_REJECTED", "status", status, "err", err)
	h.write(w, status, errorResponse{Error: err.Error()})
}
