package pubsub

import (
	"log/slog"

	"github.com/webitel/telemetry-pipeline/config"
	infrapubsub "github.com/webitel/telemetry-pipeline/infra/pubsub"
	"github.com/webitel/telemetry-pipeline/internal/adapter/transport"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub-adapter",
	fx.Provide(ProvideBeacon),
)

// ProvideBeacon returns the outbox, or nil when no broker is configured so that
// transport detection selects the request strategy.
func ProvideBeacon(p *infrapubsub.Provider, cfg *config.Config, logger *slog.Logger) transport.Beacon {
	if !p.Enabled() {
		return nil
	}
	return NewOutbox(p.Publisher, cfg.Transport.OutboxTopic, logger)
}
