package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/webitel/telemetry-pipeline/internal/adapter/transport"
	"github.com/webitel/telemetry-pipeline/internal/domain/batch"
	"github.com/webitel/telemetry-pipeline/internal/domain/event"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// RecordMarshaller turns a merged context into one serialized record.
type RecordMarshaller func(model.Context) (string, error)

// Destination is one endpoint fed with every accepted event.
type Destination struct {
	Name        string
	EndpointURL string
	Buffer      *batch.Buffer
	Request     *transport.Request
	// Overrides is merged last, e.g. a replica-specific application id.
	Overrides model.Context
}

// Router fans every enriched event out to all destinations.
//
// [UNIFORM_DESTINATIONS] Primary and replicas are the same type iterated in a fixed
// order, so admission and flush logic exist once.
type Router struct {
	destinations []*Destination
	marshal      RecordMarshaller
	logger       *slog.Logger
}

// NewRouter requires at least one destination; the first is the primary.
func NewRouter(marshal RecordMarshaller, logger *slog.Logger, destinations ...*Destination) (*Router, error) {
	if len(destinations) == 0 {
		return nil, errors.New("router: at least one destination is required")
	}
	if marshal == nil {
		return nil, errors.New("router: record marshaller is required")
	}
	return &Router{
		destinations: destinations,
		marshal:      marshal,
		logger:       logger,
	}, nil
}

// Add merges the context layers, the event payload and the event identity (in that
// precedence order) once, then offers an independently serialized copy to every destination.
func (r *Router) Add(ev event.Event, layers ...model.Context) {
	all := make([]model.Context, 0, len(layers)+2)
	all = append(all, layers...)
	all = append(all, ev.Payload, model.Context{
		"id":   ev.ID.String(),
		"type": ev.Kind.String(),
	})
	merged := model.Merge(all...)

	for _, d := range r.destinations {
		ctx := merged
		if len(d.Overrides) > 0 {
			ctx = model.Merge(merged, d.Overrides)
		}

		record, err := r.marshal(ctx)
		if err != nil {
			r.logger.Error("RECORD_SERIALIZATION_FAILED",
				"destination", d.Name,
				"err", err,
			)
			continue
		}
		d.Buffer.Add(record)
	}
}

// FlushAll flushes every destination in order. Empty buffers are no-ops.
func (r *Router) FlushAll() {
	for _, d := range r.destinations {
		d.Buffer.Flush()
	}
}

// Start launches each buffer's periodic flush loop.
func (r *Router) Start(ctx context.Context) {
	for _, d := range r.destinations {
		d.Buffer.Start(ctx)
	}
}

// Stop halts the periodic flush loops.
func (r *Router) Stop() {
	for _, d := range r.destinations {
		d.Buffer.Stop()
	}
}

// Drain waits for in-flight deliveries of every destination concurrently.
func (r *Router) Drain(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	seen := make(map[transport.Drainer]struct{})

	for _, d := range r.destinations {
		drainer, ok := d.Request.Strategy().(transport.Drainer)
		if !ok {
			continue
		}
		// Destinations usually share one strategy instance.
		if _, dup := seen[drainer]; dup {
			continue
		}
		seen[drainer] = struct{}{}

		g.Go(func() error {
			if err := drainer.Drain(gCtx); err != nil {
				return fmt.Errorf("destination %s: %w", d.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) Destinations() []*Destination {
	out := make([]*Destination, len(r.destinations))
	copy(out, r.destinations)
	return out
}

func (r *Router) Stats() []model.DestinationStats {
	res := make([]model.DestinationStats, 0, len(r.destinations))
	for _, d := range r.destinations {
		res = append(res, model.DestinationStats{
			Name:        d.Name,
			EndpointURL: d.EndpointURL,
			BufferStats: d.Buffer.Stats(),
		})
	}
	return res
}
