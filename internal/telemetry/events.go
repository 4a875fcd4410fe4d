package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventType represents the type of operational event
type EventType string

const (
	EventTypeAppLifecycle  EventType = "app_lifecycle"
	EventTypeInstallation  EventType = "installation"
	EventTypeConfiguration EventType = "configuration"
	EventTypeCompatibility EventType = "compatibility"
)

// Event represents a structured operational event
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	AppID         string                 `json:"app_id,omitempty"`
	Summary       string                 `json:"summary"`
	Details       map[string]interface{} `json:"details"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Severity      EventSeverity          `json:"severity"`
}

// EventSeverity represents the severity level of an event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// Lifecycle actions
const (
	ActionStart       = "start"
	ActionStartFailed = "start_failed"
	ActionStop        = "stop"
	ActionForceStop   = "force_stop"
)

// AppLifecycleEventDetails represents details for instance start/stop events
type AppLifecycleEventDetails struct {
	Action          string `json:"action"` // "start", "start_failed", "stop", "force_stop"
	InterpreterPort int    `json:"interpreter_port,omitempty"`
	DatabasePort    int    `json:"database_port,omitempty"`
	DatabaseVersion string `json:"database_version,omitempty"`
	State           string `json:"state,omitempty"`
	Error           string `json:"error,omitempty"`
	Duration        string `json:"duration,omitempty"`
}

// InstallationEventDetails represents details for dependency installation runs
type InstallationEventDetails struct {
	Platform  string   `json:"platform"`
	Requested []string `json:"requested,omitempty"`
	Installed []string `json:"installed,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Declined  bool     `json:"declined,omitempty"`
}

// ConfigurationEventDetails represents details for generated configuration files
type ConfigurationEventDetails struct {
	Action   string   `json:"action"` // "written", "preserved", "regenerated"
	FilePath string   `json:"file_path,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// CompatibilityEventDetails records the database compatibility profile chosen for a start
type CompatibilityEventDetails struct {
	Version           string `json:"version"`
	UserFlag          bool   `json:"user_flag"`
	LegacyAuthFlag    bool   `json:"legacy_auth_flag"`
	RefusingSuperuser bool   `json:"refusing_superuser"`
}

// EventEmitter handles structured event emission with telemetry integration
type EventEmitter struct {
	service *Service
	logger  *zap.Logger
	storage EventStorage
}

// EventStorage interface for persisting events
type EventStorage interface {
	StoreEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]Event, error)
}

// EventFilter represents filters for querying events
type EventFilter struct {
	StartTime time.Time
	EndTime   time.Time
	AppID     string
	Type      EventType
	Severity  EventSeverity
	Limit     int
}

// NewEventEmitter creates a new event emitter. A nil service disables spans;
// a nil storage only logs.
func NewEventEmitter(service *Service, logger *zap.Logger, storage EventStorage) *EventEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventEmitter{
		service: service,
		logger:  logger.Named("events"),
		storage: storage,
	}
}

// EmitAppLifecycleEvent emits an instance start or stop event
func (e *EventEmitter) EmitAppLifecycleEvent(ctx context.Context, appID string, details AppLifecycleEventDetails) error {
	severity := SeverityInfo
	switch details.Action {
	case ActionStartFailed:
		severity = SeverityError
	case ActionForceStop:
		severity = SeverityWarning
	}

	event := Event{
		ID:        generateEventID(),
		Type:      EventTypeAppLifecycle,
		Timestamp: time.Now(),
		AppID:     appID,
		Summary:   formatLifecycleSummary(details),
		Details:   structToMap(details),
		Severity:  severity,
	}

	return e.emitEvent(ctx, event)
}

// EmitInstallationEvent emits the outcome of a dependency installation run
func (e *EventEmitter) EmitInstallationEvent(ctx context.Context, details InstallationEventDetails) error {
	severity := SeverityInfo
	if len(details.Errors) > 0 {
		severity = SeverityError
	} else if details.Declined {
		severity = SeverityWarning
	}

	event := Event{
		ID:        generateEventID(),
		Type:      EventTypeInstallation,
		Timestamp: time.Now(),
		Summary:   formatInstallationSummary(details),
		Details:   structToMap(details),
		Severity:  severity,
	}

	return e.emitEvent(ctx, event)
}

// EmitConfigurationEvent emits a configuration file event
func (e *EventEmitter) EmitConfigurationEvent(ctx context.Context, appID string, details ConfigurationEventDetails) error {
	severity := SeverityInfo
	if len(details.Errors) > 0 {
		severity = SeverityError
	}

	event := Event{
		ID:        generateEventID(),
		Type:      EventTypeConfiguration,
		Timestamp: time.Now(),
		AppID:     appID,
		Summary:   formatConfigurationSummary(details),
		Details:   structToMap(details),
		Severity:  severity,
	}

	return e.emitEvent(ctx, event)
}

// EmitCompatibilityEvent records which server flags were chosen for an app
func (e *EventEmitter) EmitCompatibilityEvent(ctx context.Context, appID string, details CompatibilityEventDetails) error {
	event := Event{
		ID:        generateEventID(),
		Type:      EventTypeCompatibility,
		Timestamp: time.Now(),
		AppID:     appID,
		Summary:   fmt.Sprintf("Database %s compatibility profile selected", details.Version),
		Details:   structToMap(details),
		Severity:  SeverityInfo,
	}

	return e.emitEvent(ctx, event)
}

// emitEvent handles the actual event emission with telemetry and storage
func (e *EventEmitter) emitEvent(ctx context.Context, event Event) error {
	if span := oteltrace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		event.CorrelationID = span.SpanContext().TraceID().String()
	}

	if e.service != nil && e.service.IsEnabled() {
		_, span := e.service.Tracer().Start(ctx, "event.emit",
			oteltrace.WithAttributes(
				attribute.String("event.type", string(event.Type)),
				attribute.String("event.app_id", event.AppID),
				attribute.String("event.severity", string(event.Severity)),
				attribute.String("event.summary", event.Summary),
			),
		)
		defer span.End()
	}

	if e.storage != nil {
		if err := e.storage.StoreEvent(ctx, event); err != nil {
			e.logger.Error("Failed to store event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
			return err
		}
	}

	e.logger.Info("Event emitted",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("app_id", event.AppID),
		zap.String("summary", event.Summary),
		zap.String("severity", string(event.Severity)))

	return nil
}

// GetEvents retrieves events from storage
func (e *EventEmitter) GetEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	if e.storage == nil {
		return nil, fmt.Errorf("event storage not configured")
	}

	return e.storage.GetEvents(ctx, filter)
}

func formatLifecycleSummary(details AppLifecycleEventDetails) string {
	switch details.Action {
	case ActionStart:
		return fmt.Sprintf("App started (interpreter: %d, database: %d)",
			details.InterpreterPort, details.DatabasePort)
	case ActionStartFailed:
		if details.State != "" {
			return fmt.Sprintf("App failed to start in state %s", details.State)
		}
		return "App failed to start"
	case ActionStop:
		return "App stopped gracefully"
	case ActionForceStop:
		return "App stopped after forced database termination"
	default:
		return fmt.Sprintf("App %s", details.Action)
	}
}

func formatInstallationSummary(details InstallationEventDetails) string {
	switch {
	case len(details.Errors) > 0:
		return fmt.Sprintf("Dependency installation on %s failed: %d errors", details.Platform, len(details.Errors))
	case details.Declined:
		return fmt.Sprintf("Dependency installation on %s declined", details.Platform)
	default:
		return fmt.Sprintf("Installed %d dependencies on %s", len(details.Installed), details.Platform)
	}
}

func formatConfigurationSummary(details ConfigurationEventDetails) string {
	if len(details.Errors) > 0 {
		return fmt.Sprintf("Configuration %s failed: %d errors", details.Action, len(details.Errors))
	}
	return fmt.Sprintf("Configuration %s", details.Action)
}

func generateEventID() string {
	return "evt_" + uuid.NewString()
}

func structToMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return make(map[string]interface{})
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil || result == nil {
		return make(map[string]interface{})
	}

	return result
}
