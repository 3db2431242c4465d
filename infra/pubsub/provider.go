package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/telemetry-pipeline/config"
	"go.uber.org/fx"
)

const (
	relayQueueSuffix    = "relay"
	memoryOutputBufSize = 1024
)

// Provider holds the broker pair behind the beacon outbox. Both sides are nil when the
// beacon is disabled.
type Provider struct {
	Kind       string
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Enabled reports whether a broker is configured.
func (p *Provider) Enabled() bool { return p != nil && p.Publisher != nil }

// Close releases both sides of the broker.
func (p *Provider) Close() error {
	if !p.Enabled() {
		return nil
	}
	var errs []error
	if err := p.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	// gochannel uses one object for both sides.
	if any(p.Subscriber) != any(p.Publisher) {
		if err := p.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewProvider builds the broker selected by transport.beacon.
func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) (*Provider, error) {
	switch cfg.Transport.Beacon {
	case config.BeaconAMQP:
		amqpCfg := amqp.NewDurablePubSubConfig(
			cfg.Transport.AMQPURL,
			amqp.GenerateQueueNameTopicNameWithSuffix(relayQueueSuffix),
		)
		pub, err := amqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("amqp subscriber: %w", err)
		}
		return &Provider{Kind: config.BeaconAMQP, Publisher: pub, Subscriber: sub}, nil

	case config.BeaconMemory:
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: memoryOutputBufSize,
		}, logger)
		return &Provider{Kind: config.BeaconMemory, Publisher: ch, Subscriber: ch}, nil

	case config.BeaconNone:
		return &Provider{Kind: config.BeaconNone}, nil
	}
	return nil, fmt.Errorf("pubsub: unknown beacon backend %q", cfg.Transport.Beacon)
}

// ProvidePubSub builds the provider and closes it when the application stops.
func ProvidePubSub(lc fx.Lifecycle, cfg *config.Config, wl watermill.LoggerAdapter, logger *slog.Logger) (*Provider, error) {
	p, err := NewProvider(cfg, wl)
	if err != nil {
		return nil, err
	}
	logger.Info("PUBSUB_READY", "kind", p.Kind)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})
	return p, nil
}
