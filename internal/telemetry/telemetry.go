package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/config"
)

// Config is the telemetry section of the runtime configuration
type Config = config.TelemetryConfig

// ExporterConfig configures the span exporter ("stdout" or "otlp")
type ExporterConfig = config.TelemetryExporterConfig

// SamplingConfig configures trace sampling
type SamplingConfig = config.TelemetrySamplingConfig

// Service manages OpenTelemetry telemetry
type Service struct {
	config   Config
	logger   *zap.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewService creates a new telemetry service
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("telemetry")

	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Service{
			config: cfg,
			logger: logger,
		}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createExporter(cfg.Exporter)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	sampler := trace.TraceIDRatioBased(cfg.Sampling.Rate)
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("Telemetry export error", zap.Error(err))
	}))

	tracer := provider.Tracer(cfg.ServiceName)

	logger.Info("Telemetry initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.ServiceVersion),
		zap.String("environment", cfg.Environment),
		zap.String("exporter", cfg.Exporter.Type),
		zap.Float64("sampling_rate", cfg.Sampling.Rate))

	return &Service{
		config:   cfg,
		logger:   logger,
		provider: provider,
		tracer:   tracer,
	}, nil
}

// createExporter creates the appropriate exporter based on configuration
func createExporter(exp ExporterConfig) (trace.SpanExporter, error) {
	switch exp.Type {
	case config.ExporterTypeStdout:
		return stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
	case config.ExporterTypeOTLP:
		if exp.Endpoint == "" {
			return nil, fmt.Errorf("OTLP endpoint is required")
		}

		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(exp.Endpoint),
		}

		if len(exp.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(exp.Headers))
		}

		return otlptracehttp.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", exp.Type)
	}
}

// Start starts the telemetry service
func (s *Service) Start(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.logger.Info("Telemetry service started")
	return nil
}

// Stop stops the telemetry service and flushes remaining spans
func (s *Service) Stop(ctx context.Context) error {
	if !s.config.Enabled || s.provider == nil {
		return nil
	}

	s.logger.Info("Stopping telemetry service")

	shutdownCtx, cancel := context.WithTimeout(ctx, config.DefaultShutdownTimeout)
	defer cancel()

	if err := s.provider.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown telemetry provider", zap.Error(err))
		return err
	}

	s.logger.Info("Telemetry service stopped")
	return nil
}

// Tracer returns the OpenTelemetry tracer. A nil or disabled service yields
// the global no-op tracer.
func (s *Service) Tracer() oteltrace.Tracer {
	if s == nil || s.tracer == nil {
		return otel.Tracer("noop")
	}
	return s.tracer
}

// IsEnabled returns true if telemetry is enabled
func (s *Service) IsEnabled() bool {
	return s != nil && s.config.Enabled
}
