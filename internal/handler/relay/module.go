package relay

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/telemetry-pipeline/config"
	infrapubsub "github.com/webitel/telemetry-pipeline/infra/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("relay-handler",
	fx.Invoke(RegisterRelay),
)

// RegisterRelay runs the consumer for the lifetime of the application. It is a no-op
// when the relay or the broker is disabled.
func RegisterRelay(lc fx.Lifecycle, cfg *config.Config, p *infrapubsub.Provider, wl watermill.LoggerAdapter, logger *slog.Logger) error {
	if !cfg.Transport.Relay || !p.Enabled() {
		logger.Info("RELAY_DISABLED")
		return nil
	}

	router, err := NewWatermillRouter(wl)
	if err != nil {
		return err
	}
	NewRelay(nil, cfg.Transport.RequestTimeout, logger).Register(router, p.Subscriber, cfg.Transport.OutboxTopic)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("RELAY_ROUTER_STOPPED", "err", err)
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(ctx context.Context) error {
			return router.Close()
		},
	})
	return nil
}
