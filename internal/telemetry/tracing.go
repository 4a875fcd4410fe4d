package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	// Trace operation names
	TraceAppStart          = "wpruntime.app.start"
	TraceAppStop           = "wpruntime.app.stop"
	TraceDatabaseInit      = "wpruntime.database.initialize"
	TraceDatabaseReady     = "wpruntime.database.ready"
	TraceDependencyInstall = "wpruntime.dependencies.install"
	TraceCLIInvocation     = "wpruntime.cli.invoke"

	// Attribute keys
	AttrAppID           = "wpruntime.app.id"
	AttrAppPath         = "wpruntime.app.path"
	AttrState           = "wpruntime.app.state"
	AttrInterpreterPort = "wpruntime.interpreter.port"
	AttrDatabasePort    = "wpruntime.database.port"
	AttrDatabaseVersion = "wpruntime.database.version"
	AttrPlatform        = "wpruntime.platform"
	AttrForced          = "wpruntime.stop.forced"
	AttrErrorType       = "wpruntime.error.type"
)

// TraceHelper provides helper methods for creating traces
type TraceHelper struct {
	tracer oteltrace.Tracer
}

// NewTraceHelper creates a new trace helper
func NewTraceHelper(serviceName string) *TraceHelper {
	return &TraceHelper{
		tracer: otel.Tracer(serviceName),
	}
}

// StartSpan starts a new tracing span with common attributes
func (th *TraceHelper) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return th.tracer.Start(ctx, operationName, oteltrace.WithAttributes(attrs...))
}

// RecordError records an error on the span
func (th *TraceHelper) RecordError(span oteltrace.Span, err error, description string) {
	if err != nil {
		span.SetStatus(codes.Error, description)
		span.RecordError(err, oteltrace.WithAttributes(
			attribute.String(AttrErrorType, description),
		))
	}
}

// SetSpanSuccess marks span as successful
func (th *TraceHelper) SetSpanSuccess(span oteltrace.Span) {
	span.SetStatus(codes.Ok, "Success")
}

// RecordTransition adds a state transition event to the span in ctx
func (th *TraceHelper) RecordTransition(ctx context.Context, state string) {
	oteltrace.SpanFromContext(ctx).AddEvent("state.transition",
		oteltrace.WithAttributes(attribute.String(AttrState, state)))
}

// TraceAppOperationFunc traces an instance start or stop
func (th *TraceHelper) TraceAppOperationFunc(ctx context.Context, operationName, appID string, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, operationName,
		attribute.String(AttrAppID, appID),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	span.SetAttributes(
		attribute.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if err != nil {
		th.RecordError(span, err, operationName+" failed")
		return err
	}

	th.SetSpanSuccess(span)
	return nil
}

// TraceInstallFunc traces a dependency installation run
func (th *TraceHelper) TraceInstallFunc(ctx context.Context, platform string, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceDependencyInstall,
		attribute.String(AttrPlatform, platform),
	)
	defer span.End()

	if err := fn(ctx); err != nil {
		th.RecordError(span, err, "dependency installation failed")
		return err
	}

	th.SetSpanSuccess(span)
	return nil
}

// GetTraceHelper returns a trace helper instance from telemetry service
func (s *Service) GetTraceHelper() *TraceHelper {
	if !s.IsEnabled() {
		return &TraceHelper{tracer: otel.Tracer("noop")}
	}
	return &TraceHelper{tracer: s.tracer}
}
