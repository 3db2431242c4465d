package service

import (
	"context"
	"log/slog"

	"github.com/webitel/telemetry-pipeline/config"
	"github.com/webitel/telemetry-pipeline/internal/adapter/transport"
	"github.com/webitel/telemetry-pipeline/internal/domain/batch"
	"github.com/webitel/telemetry-pipeline/internal/domain/bus"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
	"go.uber.org/fx"
)

const (
	DestinationPrimary = "primary"
	DestinationReplica = "replica"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		NewClock,
		ProvideGlobalContextStore,
		fx.Annotate(
			ProvideSession,
			fx.As(new(SessionProvider)),
		),
		ProvideViewHistory,
		ProvideRouter,
		ProvideAssembler,
		ProvideFlushTrigger,

		// Domain services
		fx.Annotate(
			NewTelemetry,
			fx.As(new(Tracker)),
		),
	),

	fx.Invoke(RegisterPipelineLifecycle),
)

func ProvideGlobalContextStore(cfg *config.Config) *GlobalContextStore {
	return NewGlobalContextStore(cfg.GlobalContext)
}

func ProvideSession(cfg *config.Config, logger *slog.Logger) *SampledSession {
	s := NewSampledSession(cfg.Session.SampleRate, cfg.Session.ResourceSampleRate)
	logger.Info("SESSION_SAMPLED",
		"session_id", s.ID(),
		"tracked", s.IsTracked(),
		"tracked_with_resource", s.IsTrackedWithResource(),
	)
	return s
}

func ProvideViewHistory(cfg *config.Config) *ViewHistory {
	return NewViewHistory(cfg.Session.ViewHistorySize)
}

// ProvideRouter builds the primary destination and, when configured, the replica.
// Every destination shares the detected transport strategy.
func ProvideRouter(
	cfg *config.Config,
	strategy transport.Strategy,
	marshal RecordMarshaller,
	b bus.EventBus,
	logger *slog.Logger,
) (*Router, error) {
	destinations := []*Destination{
		newDestination(DestinationPrimary, cfg.PrimaryURL(), nil, cfg, strategy, b, logger),
	}

	if url := cfg.ReplicaURL(); url != "" {
		var overrides model.Context
		if id := cfg.Endpoints.Replica.ApplicationID; id != "" {
			overrides = model.Context{"application": map[string]any{"id": id}}
		}
		destinations = append(destinations,
			newDestination(DestinationReplica, url, overrides, cfg, strategy, b, logger),
		)
	}

	return NewRouter(marshal, logger, destinations...)
}

func newDestination(
	name, endpointURL string,
	overrides model.Context,
	cfg *config.Config,
	strategy transport.Strategy,
	b bus.EventBus,
	logger *slog.Logger,
) *Destination {
	req := transport.NewRequest(name, endpointURL, strategy, logger)
	buf := batch.NewBuffer(req,
		batch.WithName(name),
		batch.WithMaxCount(cfg.Batch.MaxSize),
		batch.WithBytesLimit(cfg.Batch.BytesLimit),
		batch.WithMaxMessageSize(cfg.Batch.MaxMessageSize),
		batch.WithFlushInterval(cfg.Batch.FlushInterval),
		batch.WithLogger(logger),
		batch.WithFlushObserver(func(r model.FlushReport) {
			b.Notify(bus.BatchFlushed, r)
		}),
	)
	return &Destination{
		Name:        name,
		EndpointURL: endpointURL,
		Buffer:      buf,
		Request:     req,
		Overrides:   overrides,
	}
}

func ProvideAssembler(
	cfg *config.Config,
	clock *Clock,
	store *GlobalContextStore,
	session SessionProvider,
	views *ViewHistory,
	router *Router,
	logger *slog.Logger,
) *Assembler {
	return NewAssembler(AssemblerConfig{
		Service:       cfg.Service,
		ApplicationID: cfg.ApplicationID,
		Env:           cfg.Env,
		Version:       cfg.Version,
	}, clock, store, session, views, router, logger)
}

func ProvideFlushTrigger(router *Router, strategy transport.Strategy, logger *slog.Logger) *FlushTrigger {
	return NewFlushTrigger(router, strategy, logger)
}

// RegisterPipelineLifecycle wires the pipeline to the bus on start and performs the
// final teardown flush on stop.
func RegisterPipelineLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	b bus.EventBus,
	assembler *Assembler,
	trigger *FlushTrigger,
	router *Router,
	store *GlobalContextStore,
	logger *slog.Logger,
) {
	loopCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			assembler.Start(b)
			trigger.Install(b)
			router.Start(loopCtx)

			cfg.WatchGlobalContext(func(next map[string]any, err error) {
				if err != nil {
					logger.Warn("GLOBAL_CONTEXT_RELOAD_FAILED", "err", err)
					return
				}
				store.Set(next)
				logger.Info("GLOBAL_CONTEXT_RELOADED", "keys", len(next))
			})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			router.Stop()

			// [TEARDOWN] Emit the unload signal first so an installed trigger flushes
			// through the teardown-safe strategy. Without one, flush directly.
			b.Notify(bus.BeforeUnload, nil)
			if !trigger.Installed() {
				router.FlushAll()
			}

			trigger.Uninstall()
			assembler.Stop()

			if err := router.Drain(ctx); err != nil {
				logger.Warn("PIPELINE_DRAIN_INCOMPLETE", "err", err)
			}
			logger.Info("PIPELINE_STOPPED")
			return nil
		},
	})
}
