package transport

import (
	"log/slog"

	"github.com/webitel/telemetry-pipeline/config"
	"go.uber.org/fx"
)

var Module = fx.Module("transport",
	fx.Provide(ProvideStrategy),
)

// ProvideStrategy runs capability detection once for the whole process.
func ProvideStrategy(cfg *config.Config, beacon Beacon, logger *slog.Logger) Strategy {
	fallback := NewRequestStrategy(logger,
		WithRequestTimeout(cfg.Transport.RequestTimeout),
		WithBreakerThreshold(cfg.Transport.BreakerThreshold),
	)
	return Detect(beacon, fallback, logger)
}
