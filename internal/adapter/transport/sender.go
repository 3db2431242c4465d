package transport

import (
	"context"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
	"github.com/webitel/telemetry-pipeline/internal/domain/batch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Separator joins records of one batch on the wire.
const Separator = "\n"

var _ batch.Sender = (*Request)(nil)

// Request binds a strategy to one destination endpoint.
type Request struct {
	name        string
	endpointURL string
	strategy    Strategy
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewRequest creates the sender used by a destination's batch buffer.
func NewRequest(name, endpointURL string, strategy Strategy, logger *slog.Logger) *Request {
	return &Request{
		name:        name,
		endpointURL: endpointURL,
		strategy:    strategy,
		logger:      logger,
		tracer:      otel.Tracer("github.com/webitel/telemetry-pipeline/transport"),
	}
}

func (r *Request) EndpointURL() string { return r.endpointURL }
func (r *Request) Strategy() Strategy  { return r.strategy }

// Send delivers one flushed batch. Records are joined once and never re-encoded.
func (r *Request) Send(payload []string) {
	if len(payload) == 0 {
		return
	}
	r.send(join(payload), len(payload))
}

// SendValue delivers a single value encoded as JSON.
func (r *Request) SendValue(v any) error {
	body, err := Serialize(v)
	if err != nil {
		return err
	}
	r.send(body, 1)
	return nil
}

func (r *Request) send(body []byte, items int) {
	ctx, span := r.tracer.Start(context.Background(), "batch.flush",
		trace.WithAttributes(
			attribute.String("destination", r.name),
			attribute.String("strategy", r.strategy.Name()),
			attribute.Int("items", items),
			attribute.Int("bytes", len(body)),
		),
	)
	defer span.End()

	r.logger.Debug("BATCH_SENT",
		"destination", r.name,
		"strategy", r.strategy.Name(),
		"items", items,
		"bytes", len(body),
	)
	r.strategy.Send(ctx, r.endpointURL, body)
}

// Serialize chooses the wire encoding for a whole payload: a sequence of pre-serialized
// records is joined by Separator, anything else is encoded as one JSON value.
func Serialize(payload any) ([]byte, error) {
	if items, ok := payload.([]string); ok {
		return join(items), nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: encode payload: %w", err)
	}
	return body, nil
}

// join concatenates pre-serialized records with Separator in one allocation.
func join(items []string) []byte {
	buf := make([]byte, 0, batch.PayloadSize(items))
	for i, item := range items {
		if i > 0 {
			buf = append(buf, Separator...)
		}
		buf = append(buf, item...)
	}
	return buf
}
