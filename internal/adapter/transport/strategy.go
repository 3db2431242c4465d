/*
Package transport delivers flushed batches to collector endpoints.

Two strategies exist and one is selected once at startup:
  - beacon: hands the batch to a host primitive that attempts delivery even if this
    process is torn down right after the call returns.
  - request: a plain outbound POST issued on its own goroutine.

Delivery is best-effort. Nothing is retried at this layer and failures never reach the
producer: they are logged and the batch is considered lost.
*/
package transport

import (
	"context"
	"log/slog"
)

const (
	StrategyBeacon  = "beacon"
	StrategyRequest = "request"
)

// Strategy is a fire-and-forget delivery mechanism. Send must return without waiting
// for the network round trip.
type Strategy interface {
	Name() string
	// TeardownSafe reports whether a Send issued during teardown is still attempted.
	TeardownSafe() bool
	Send(ctx context.Context, endpointURL string, body []byte)
}

// Beacon is the host primitive behind the teardown-safe strategy. It returns false when
// the batch could not be queued for delivery.
type Beacon interface {
	SendBeacon(ctx context.Context, endpointURL string, body []byte) bool
}

// Drainer is implemented by strategies that track in-flight sends.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Detect selects the delivery strategy once. A configured beacon wins; otherwise the
// fallback request strategy is used directly.
func Detect(beacon Beacon, fallback Strategy, logger *slog.Logger) Strategy {
	if beacon == nil {
		logger.Info("TRANSPORT_STRATEGY_SELECTED", "strategy", fallback.Name(), "teardown_safe", false)
		return fallback
	}
	s := NewBeaconStrategy(beacon, fallback, logger)
	logger.Info("TRANSPORT_STRATEGY_SELECTED", "strategy", s.Name(), "teardown_safe", true)
	return s
}
