package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/telemetry-pipeline/internal/adapter/transport"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MetadataEndpointURL carries the collector URL a batch is bound for.
	MetadataEndpointURL = "endpoint_url"
	// MetadataTraceID links the relay delivery to the flush span.
	MetadataTraceID = "trace_id"

	// DefaultMaxPayload mirrors the quota browsers enforce on beacons.
	DefaultMaxPayload = 64 * 1024
)

var _ transport.Beacon = (*Outbox)(nil)

// Outbox is the teardown-safe beacon: once Publish returns, the broker owns the batch.
type Outbox struct {
	publisher  message.Publisher
	topic      string
	maxPayload int
	logger     *slog.Logger
}

type OutboxOption func(*Outbox)

// WithMaxPayload makes the outbox refuse larger bodies. Zero disables the quota.
func WithMaxPayload(n int) OutboxOption {
	return func(o *Outbox) { o.maxPayload = n }
}

func NewOutbox(publisher message.Publisher, topic string, logger *slog.Logger, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		publisher:  publisher,
		topic:      topic,
		maxPayload: DefaultMaxPayload,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SendBeacon queues the body. It returns false when the body exceeds the quota or the
// broker rejects it; the caller then falls back to a direct request.
func (o *Outbox) SendBeacon(ctx context.Context, endpointURL string, body []byte) bool {
	if o.maxPayload > 0 && len(body) > o.maxPayload {
		o.logger.Debug("OUTBOX_QUOTA_EXCEEDED", "bytes", len(body), "limit", o.maxPayload)
		return false
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set(MetadataEndpointURL, endpointURL)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata.Set(MetadataTraceID, sc.TraceID().String())
	}
	msg.SetContext(context.WithoutCancel(ctx))

	if err := o.publisher.Publish(o.topic, msg); err != nil {
		o.logger.Warn("OUTBOX_PUBLISH_FAILED",
			"topic", o.topic,
			"msg_id", msg.UUID,
			"err", err,
		)
		return false
	}
	return true
}
