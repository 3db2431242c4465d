package relay

import (
	"context"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	adapter "github.com/webitel/telemetry-pipeline/internal/adapter/pubsub"
)

// DeliverFunc performs the single delivery attempt for one batch.
type DeliverFunc func(ctx context.Context, endpointURL string, body []byte) error

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to the delivery logic. Every outcome is ACKed: a beacon is
// attempted once and never redelivered.
func Bind(h *Relay, fn DeliverFunc) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		// [PANIC_RECOVERY]
		// Safely handle runtime panics to keep the consumer alive.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
			}
		}()

		endpointURL := msg.Metadata.Get(adapter.MetadataEndpointURL)
		if endpointURL == "" {
			h.logger.Warn("RELAY_ROUTING_FAILED: endpoint_missing", "msg_id", msg.UUID)
			return nil // ACK: Invalid routing is a terminal state.
		}

		if err := fn(msg.Context(), endpointURL, msg.Payload); err != nil {
			h.logger.Warn("RELAY_DELIVERY_FAILED",
				"msg_id", msg.UUID,
				"trace_id", TraceIDFromContext(msg.Context()),
				"endpoint", endpointURL,
				"err", err,
			)
		}
		return nil // ACK: best-effort, the batch is lost on failure.
	}
}
