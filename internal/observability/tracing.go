package observability

import (
	"context"

	"github.com/subtrackhq/subtrack/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// setupTracing installs an OTLP/HTTP tracer provider when an endpoint is
// configured. Without one the global no-op provider stays in place.
func setupTracing(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) error {
	if cfg.OTLPEndpoint == "" {
		log.Debug("tracing disabled, no otlp endpoint configured")
		return nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	log.Info("tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))
	return nil
}
