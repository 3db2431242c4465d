package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	HandlerName = "BEACON_RELAY"

	defaultThrottlePerSecond = 100
	defaultHandlerTimeout    = 30 * time.Second
)

// Relay turns beacon messages into collector POSTs.
type Relay struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewRelay(client *http.Client, timeout time.Duration, logger *slog.Logger) *Relay {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &Relay{client: client, timeout: timeout, logger: logger}
}

// Deliver POSTs the batch body exactly as the buffer produced it, without a content type.
func (h *Relay) Deliver(ctx context.Context, endpointURL string, body []byte) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("collector responded %s", resp.Status)
	}
	return nil
}

// NewWatermillRouter creates the consumer router.
func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{
		CloseTimeout: 15 * time.Second,
	}, logger)
}

// [REGISTRATION_PIPELINE]
// Register binds the relay to the outbox topic. No retry or poison queue: a failed
// delivery is logged and ACKed.
func (h *Relay) Register(router *message.Router, sub message.Subscriber, topic string) {
	router.AddConsumerHandler(HandlerName, topic, sub, Bind(h, h.Deliver)).AddMiddleware(
		TraceIDMiddleware,
		LoggingMiddleware(h.logger),
		middleware.NewThrottle(defaultThrottlePerSecond, time.Second).Middleware,
		middleware.Timeout(defaultHandlerTimeout),
	)
	h.logger.Info("RELAY_PIPELINE_READY", "topic", topic)
}
