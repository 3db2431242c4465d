package handler

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/registry"
	httphandler "github.com/webitel/telemetry-pipeline/internal/handler/http"
	"github.com/webitel/telemetry-pipeline/internal/handler/ws"
	"go.uber.org/fx"
)

// SessionPath is where client runtimes open their WebSocket session.
const SessionPath = "/v1/session"

var Module = fx.Module("ingress-handlers",
	registry.Module,
	fx.Provide(
		func(h *registry.Hub) registry.Hubber { return h },
		httphandler.NewHandler,
		ws.NewSessionHandler,
	),
	fx.Invoke(Mount),
)

// Mount registers every ingress route on the shared mux and starts forwarding flush
// reports to live sessions.
func Mount(lc fx.Lifecycle, mux *chi.Mux, api *httphandler.Handler, session *ws.SessionHandler, b bus.EventBus, hub registry.Hubber, logger *slog.Logger) {
	api.Routes(mux)
	mux.Handle(SessionPath, session)

	sub := ws.ForwardFlushReports(b, hub, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sub.Unsubscribe()
			return nil
		},
	})
}
