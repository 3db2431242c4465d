package cmd

import (
	"time"

	"github.com/webitel/telemetry-pipeline/config"
	infrapubsub "github.com/webitel/telemetry-pipeline/infra/pubsub"
	httpsrv "github.com/webitel/telemetry-pipeline/infra/server/http"
	pubsubadapter "github.com/webitel/telemetry-pipeline/internal/adapter/pubsub"
	"github.com/webitel/telemetry-pipeline/internal/adapter/transport"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/handler"
	"github.com/webitel/telemetry-pipeline/internal/handler/marshaller"
	"github.com/webitel/telemetry-pipeline/internal/handler/relay"
	"github.com/webitel/telemetry-pipeline/internal/service"
	"go.uber.org/fx"
)

const shutdownTimeout = 30 * time.Second

// NewApp assembles the agent.
//
// [SHUTDOWN_ORDER] Hooks stop in reverse: ingress closes first, then the pipeline flushes,
// then the relay, the broker and tracing stop.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracerProvider,
			infrapubsub.ProvidePubSub,
			fx.Annotate(
				bus.New,
				fx.As(new(bus.EventBus)),
			),
			func() service.RecordMarshaller { return marshaller.MarshalRecord },
		),
		// [DECORATION_LAYER] Root scope so every ingress module sees the decorated Tracker.
		fx.Decorate(service.NewTrackerMiddleware),
		fx.StopTimeout(shutdownTimeout),
		fx.WithLogger(ProvideFxLogger),
		fx.Module("tracing", fx.Invoke(InstallTracing)),
		relay.Module,
		pubsubadapter.Module,
		transport.Module,
		service.Module,
		handler.Module,
		httpsrv.Module,
	)
}
