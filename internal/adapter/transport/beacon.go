package transport

import (
	"context"
	"log/slog"
)

var (
	_ Strategy = (*beaconStrategy)(nil)
	_ Drainer  = (*beaconStrategy)(nil)
)

type beaconStrategy struct {
	beacon   Beacon
	fallback Strategy
	logger   *slog.Logger
}

// NewBeaconStrategy wraps a Beacon. When the beacon refuses a batch, the batch is handed
// to fallback instead.
func NewBeaconStrategy(beacon Beacon, fallback Strategy, logger *slog.Logger) Strategy {
	return &beaconStrategy{
		beacon:   beacon,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *beaconStrategy) Name() string       { return StrategyBeacon }
func (s *beaconStrategy) TeardownSafe() bool { return true }

func (s *beaconStrategy) Send(ctx context.Context, endpointURL string, body []byte) {
	if s.beacon.SendBeacon(ctx, endpointURL, body) {
		return
	}

	s.logger.Warn("BEACON_REFUSED",
		"endpoint", endpointURL,
		"bytes", len(body),
		"fallback", s.fallback != nil,
	)
	if s.fallback != nil {
		s.fallback.Send(ctx, endpointURL, body)
	}
}

func (s *beaconStrategy) Drain(ctx context.Context) error {
	if d, ok := s.fallback.(Drainer); ok {
		return d.Drain(ctx)
	}
	return nil
}
