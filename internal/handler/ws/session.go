package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
	"github.com/webitel/telemetry-pipeline/internal/domain/registry"
	httphandler "github.com/webitel/telemetry-pipeline/internal/handler/http"
	wsmarshaller "github.com/webitel/telemetry-pipeline/internal/handler/marshaller/ws"
	"github.com/webitel/telemetry-pipeline/internal/service"
)

const (
	outboundBufferSize = 64
	writeWait          = 5 * time.Second
	maxFrameBytes      = 256 * 1024
)

// SessionHandler models one client runtime per WebSocket connection. Frames carry
// events and lifecycle signals; losing the connection without a clean close is treated
// as the runtime being torn down.
type SessionHandler struct {
	logger   *slog.Logger
	tracker  service.Tracker
	hub      registry.Hubber
	upgrader websocket.Upgrader
}

func NewSessionHandler(logger *slog.Logger, tracker service.Tracker, hub registry.Hubber) *SessionHandler {
	return &SessionHandler{
		logger:  logger,
		tracker: tracker,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Collectors run on arbitrary origins
		},
	}
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxFrameBytes)

	// [SINGLE_WRITER] Every outgoing frame goes through the connector; only the pump writes.
	conn := registry.NewConnector(outboundBufferSize)
	h.hub.Register(conn)
	defer h.hub.Unregister(conn.GetID())

	log := h.logger.With("conn_id", conn.GetID())
	log.Info("WS_SESSION_OPENED")

	go h.writePump(ws, conn, log)

	h.readLoop(ws, conn, log)
}

func (h *SessionHandler) readLoop(ws *websocket.Conn, conn registry.Connector, log *slog.Logger) {
	reply := h.replier(conn)
	unloaded := false
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !unloaded && abnormalClose(err) {
				log.Info("WS_SESSION_LOST", "err", err)
				h.tracker.Signal(bus.BeforeUnload, nil)
			}
			log.Info("WS_SESSION_CLOSED", "dropped_frames", conn.Dropped())
			return
		}

		frame, err := wsmarshaller.DecodeClientFrame(data)
		if err != nil {
			reply(wsmarshaller.MarshalError(err))
			continue
		}

		switch frame.Type {
		case wsmarshaller.FrameEvent:
			ev, err := frame.Event.Inbound()
			if err != nil {
				reply(wsmarshaller.MarshalError(err))
				continue
			}
			id := httphandler.Track(h.tracker, ev)
			reply(wsmarshaller.MarshalAck(id.String()))

		case wsmarshaller.FrameVisibility:
			state, err := event.ParseVisibility(frame.State)
			if err != nil {
				reply(wsmarshaller.MarshalError(err))
				continue
			}
			h.tracker.Signal(bus.VisibilityChanged, state)

		case wsmarshaller.FrameUnload:
			unloaded = true
			h.tracker.Signal(bus.BeforeUnload, nil)
		}
	}
}

// replier queues marshalled frames without blocking the read loop.
func (h *SessionHandler) replier(conn registry.Connector) func([]byte, error) {
	return func(frame []byte, err error) {
		if err != nil {
			h.logger.Error("WS_FRAME_MARSHAL_FAILED", "err", err)
			return
		}
		if !conn.Send(frame, 0) {
			h.logger.Warn("WS_OUTBOUND_FULL", "conn_id", conn.GetID())
		}
	}
}

func (h *SessionHandler) writePump(ws *websocket.Conn, conn registry.Connector, log *slog.Logger) {
	for {
		select {
		case <-conn.Done():
			// Unblocks the read loop when the hub shuts down.
			_ = ws.Close()
			return
		case frame := <-conn.Recv():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn("WS_SEND_FAILED", "err", err)
				return
			}
		}
	}
}

// abnormalClose reports whether the connection ended without a normal close frame.
func abnormalClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code != websocket.CloseNormalClosure
	}
	return true
}

// ForwardFlushReports pushes every flush report to all attached sessions.
//
// [NON_BLOCKING] Runs under the flushing buffer's lock: it only marshals and queues.
func ForwardFlushReports(b bus.EventBus, hub registry.Hubber, logger *slog.Logger) bus.Subscription {
	return b.Subscribe(bus.BatchFlushed, func(data any) {
		report, ok := data.(model.FlushReport)
		if !ok || hub.Count() == 0 {
			return
		}
		frame, err := wsmarshaller.MarshalFlushed(report)
		if err != nil {
			logger.Error("WS_FRAME_MARSHAL_FAILED", "err", err)
			return
		}
		hub.Broadcast(frame)
	})
}
