package marshaller

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	json "github.com/goccy/go-json"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// MaxEventsPerRequest bounds a single NDJSON ingress body.
const MaxEventsPerRequest = 1000

// MaxStartTimeMillis is the largest start_time that fits a time.Duration.
const MaxStartTimeMillis = float64(math.MaxInt64 / int64(time.Millisecond))

// EventRequest is the wire form of one collected event.
type EventRequest struct {
	Kind string `json:"kind"`
	// StartTime is an optional offset from the pipeline origin, in milliseconds.
	StartTime *float64      `json:"start_time,omitempty"`
	Payload   model.Context `json:"payload"`
	Context   model.Context `json:"context,omitempty"`
}

// InboundEvent is a validated EventRequest.
type InboundEvent struct {
	Kind      event.Kind
	StartTime *time.Duration
	Payload   model.Context
	Customer  model.Context
}

// Inbound validates the request.
func (r EventRequest) Inbound() (InboundEvent, error) {
	kind, err := event.ParseKind(r.Kind)
	if err != nil {
		return InboundEvent{}, err
	}

	res := InboundEvent{
		Kind:     kind,
		Payload:  r.Payload,
		Customer: r.Context,
	}
	if r.StartTime != nil {
		if *r.StartTime < 0 {
			return InboundEvent{}, fmt.Errorf("start_time must not be negative, got %v", *r.StartTime)
		}
		if *r.StartTime > MaxStartTimeMillis {
			return InboundEvent{}, fmt.Errorf("start_time exceeds %v ms, got %v", MaxStartTimeMillis, *r.StartTime)
		}
		d := time.Duration(*r.StartTime * float64(time.Millisecond))
		res.StartTime = &d
	}
	return res, nil
}

// DecodeEvents reads one JSON event or a stream of newline-delimited events.
// The whole body is rejected when any event is malformed.
func DecodeEvents(r io.Reader) ([]InboundEvent, error) {
	dec := json.NewDecoder(r)

	var res []InboundEvent
	for {
		var req EventRequest
		err := dec.Decode(&req)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(res), err)
		}
		if len(res) == MaxEventsPerRequest {
			return nil, fmt.Errorf("too many events, limit is %d", MaxEventsPerRequest)
		}

		in, err := req.Inbound()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", len(res), err)
		}
		res = append(res, in)
	}

	if len(res) == 0 {
		return nil, errors.New("no events in body")
	}
	return res, nil
}
