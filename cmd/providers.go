package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/telemetry-pipeline/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	logglobal "go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFormatJSON = "json"
	logFormatText = "text"
	logFormatOTel = "otel"
)

// ProvideLogger builds the process logger from the log section and installs it as the
// slog default.
func ProvideLogger(lc fx.Lifecycle, cfg *config.Config) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		// [LOG_ROTATION]
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return rotating.Close() },
		})
		out = rotating
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch cfg.Log.Format {
	case logFormatText:
		h = slog.NewTextHandler(out, opts)
	case logFormatOTel:
		h = otelslog.NewHandler(ServiceName,
			otelslog.WithLoggerProvider(logglobal.GetLoggerProvider()),
			otelslog.WithVersion(version),
		)
	case logFormatJSON, "":
		h = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}

	logger := slog.New(h).With(
		"service", ServiceName,
		"namespace", ServiceNamespace,
		"version", version,
	)
	slog.SetDefault(logger)
	return logger, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// ProvideFxLogger routes fx container events through slog.
func ProvideFxLogger(logger *slog.Logger) fxevent.Logger {
	return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
}

// ProvideTracerProvider builds the SDK provider; spans carry the service resource.
func ProvideTracerProvider(cfg *config.Config) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.version", cfg.Version),
		attribute.String("deployment.environment", cfg.Env),
	)
	return sdktrace.NewTracerProvider(sdktrace.WithResource(res))
}

// InstallTracing makes the provider global when tracing is enabled.
func InstallTracing(lc fx.Lifecycle, cfg *config.Config, tp *sdktrace.TracerProvider, logger *slog.Logger) {
	if !cfg.Tracing.Enabled {
		logger.Info("TRACING_DISABLED")
		return
	}
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}
