package infrastructure

import (
	"context"
	"fmt"

	"github.com/architeacher/amqp-broker/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// NewTracerProvider builds and installs the global TracerProvider,
// switching between the stdout exporter (useful for local development)
// and an OTLP/gRPC exporter per Telemetry.ExporterType, mirroring the
// resource-construction shape used by NewOTELMetrics.
func NewTracerProvider(ctx context.Context, cfg config.ServiceConfig, logger *Logger) (*sdktrace.TracerProvider, error) {
	if !cfg.Telemetry.Traces.Enabled {
		logger.Info().Msg("tracing disabled, using no-op tracer provider")

		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)

		return tp, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.AppConfig.ServiceName),
			semconv.ServiceVersionKey.String(cfg.AppConfig.ServiceVersion),
			semconv.ServiceInstanceIDKey.String(cfg.AppConfig.CommitSHA),
			semconv.DeploymentEnvironmentKey.String(cfg.AppConfig.Env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	exporter, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.Telemetry.Traces.SamplerRatio)),
	)

	otel.SetTracerProvider(tp)

	logger.Info().
		Str("exporter", cfg.Telemetry.ExporterType).
		Msg("tracer provider initialized successfully")

	return tp, nil
}

func newTraceExporter(ctx context.Context, cfg config.ServiceConfig) (sdktrace.SpanExporter, error) {
	if cfg.Telemetry.ExporterType == "stdout" {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}

		return exp, nil
	}

	endpoint := fmt.Sprintf("%s:%s", cfg.Telemetry.OtelGRPCHost, cfg.Telemetry.OtelGRPCPort)

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTEL collector: %w", err)
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	return exp, nil
}
