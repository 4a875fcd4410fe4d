package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

// MockEventStorage implements EventStorage for testing
type MockEventStorage struct {
	storedEvents []Event
	storeError   error
	getError     error
}

func (m *MockEventStorage) StoreEvent(ctx context.Context, event Event) error {
	if m.storeError != nil {
		return m.storeError
	}
	m.storedEvents = append(m.storedEvents, event)
	return nil
}

func (m *MockEventStorage) GetEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	if m.getError != nil {
		return nil, m.getError
	}

	var filtered []Event
	for _, event := range m.storedEvents {
		if filter.AppID != "" && event.AppID != filter.AppID {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		filtered = append(filtered, event)
	}
	return filtered, nil
}

func TestEmitAppLifecycleEvent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service, _ := NewService(Config{Enabled: false}, logger)
	storage := &MockEventStorage{}
	emitter := NewEventEmitter(service, logger, storage)

	tests := []struct {
		name             string
		details          AppLifecycleEventDetails
		expectedSeverity EventSeverity
	}{
		{
			name: "successful start",
			details: AppLifecycleEventDetails{
				Action:          ActionStart,
				InterpreterPort: 8080,
				DatabasePort:    3306,
			},
			expectedSeverity: SeverityInfo,
		},
		{
			name: "failed start",
			details: AppLifecycleEventDetails{
				Action: ActionStartFailed,
				State:  "DatabaseStarting",
				Error:  "startup timeout",
			},
			expectedSeverity: SeverityError,
		},
		{
			name:             "forced stop",
			details:          AppLifecycleEventDetails{Action: ActionForceStop},
			expectedSeverity: SeverityWarning,
		},
		{
			name:             "graceful stop",
			details:          AppLifecycleEventDetails{Action: ActionStop},
			expectedSeverity: SeverityInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage.storedEvents = nil

			err := emitter.EmitAppLifecycleEvent(context.Background(), "app-1", tt.details)
			if err != nil {
				t.Fatalf("EmitAppLifecycleEvent failed: %v", err)
			}

			if len(storage.storedEvents) != 1 {
				t.Fatalf("expected 1 stored event, got %d", len(storage.storedEvents))
			}

			event := storage.storedEvents[0]
			if event.Type != EventTypeAppLifecycle {
				t.Errorf("expected event type %s, got %s", EventTypeAppLifecycle, event.Type)
			}
			if event.AppID != "app-1" {
				t.Errorf("expected app 'app-1', got %s", event.AppID)
			}
			if event.Severity != tt.expectedSeverity {
				t.Errorf("expected severity %s, got %s", tt.expectedSeverity, event.Severity)
			}
			if event.Details["action"] != tt.details.Action {
				t.Errorf("expected details action %s, got %v", tt.details.Action, event.Details["action"])
			}
		})
	}
}

func TestEmitInstallationEvent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	storage := &MockEventStorage{}
	emitter := NewEventEmitter(nil, logger, storage)

	tests := []struct {
		name             string
		details          InstallationEventDetails
		expectedSeverity EventSeverity
		expectedSummary  string
	}{
		{
			name:             "installed",
			details:          InstallationEventDetails{Platform: "darwin", Installed: []string{"interpreter", "cli-tool"}},
			expectedSeverity: SeverityInfo,
			expectedSummary:  "Installed 2 dependencies on darwin",
		},
		{
			name:             "declined",
			details:          InstallationEventDetails{Platform: "windows", Declined: true},
			expectedSeverity: SeverityWarning,
			expectedSummary:  "Dependency installation on windows declined",
		},
		{
			name:             "errors",
			details:          InstallationEventDetails{Platform: "linux", Errors: []string{"interpreter requires manual installation"}},
			expectedSeverity: SeverityError,
			expectedSummary:  "Dependency installation on linux failed: 1 errors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage.storedEvents = nil

			if err := emitter.EmitInstallationEvent(context.Background(), tt.details); err != nil {
				t.Fatalf("EmitInstallationEvent failed: %v", err)
			}

			event := storage.storedEvents[0]
			if event.Severity != tt.expectedSeverity {
				t.Errorf("expected severity %s, got %s", tt.expectedSeverity, event.Severity)
			}
			if event.Summary != tt.expectedSummary {
				t.Errorf("expected summary %q, got %q", tt.expectedSummary, event.Summary)
			}
		})
	}
}

func TestEmitEventStorageError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	storage := &MockEventStorage{storeError: errors.New("disk full")}
	emitter := NewEventEmitter(nil, logger, storage)

	err := emitter.EmitConfigurationEvent(context.Background(), "app-1", ConfigurationEventDetails{Action: "written"})
	if err == nil {
		t.Fatal("expected storage error to propagate")
	}
}

func TestGetEvents(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service, _ := NewService(Config{Enabled: false}, logger)
	storage := &MockEventStorage{}
	emitter := NewEventEmitter(service, logger, storage)

	ctx := context.Background()
	emitter.EmitAppLifecycleEvent(ctx, "app-1", AppLifecycleEventDetails{Action: ActionStart})
	emitter.EmitAppLifecycleEvent(ctx, "app-2", AppLifecycleEventDetails{Action: ActionStart})

	events, err := emitter.GetEvents(ctx, EventFilter{AppID: "app-1"})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event for app-1, got %d", len(events))
	}
	if events[0].AppID != "app-1" {
		t.Errorf("expected app 'app-1', got %s", events[0].AppID)
	}

	noStorage := NewEventEmitter(service, logger, nil)
	if _, err := noStorage.GetEvents(ctx, EventFilter{}); err == nil {
		t.Error("expected error without storage")
	}
}

func TestGenerateEventID(t *testing.T) {
	id1 := generateEventID()
	id2 := generateEventID()

	if id1 == id2 {
		t.Error("generateEventID should produce unique IDs")
	}

	if !strings.HasPrefix(id1, "evt_") {
		t.Errorf("event ID should start with 'evt_', got %s", id1)
	}
}

func TestStructToMap(t *testing.T) {
	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	result := structToMap(TestStruct{Name: "test", Value: 42})

	if result["name"] != "test" {
		t.Errorf("expected name='test', got %v", result["name"])
	}

	nilResult := structToMap(nil)
	if nilResult == nil || len(nilResult) != 0 {
		t.Error("structToMap should return empty map for nil input")
	}
}

func TestFormatLifecycleSummary(t *testing.T) {
	tests := []struct {
		name     string
		details  AppLifecycleEventDetails
		expected string
	}{
		{
			name:     "start action",
			details:  AppLifecycleEventDetails{Action: ActionStart, InterpreterPort: 8080, DatabasePort: 3306},
			expected: "App started (interpreter: 8080, database: 3306)",
		},
		{
			name:     "failed start with state",
			details:  AppLifecycleEventDetails{Action: ActionStartFailed, State: "InterpreterStarting"},
			expected: "App failed to start in state InterpreterStarting",
		},
		{
			name:     "graceful stop",
			details:  AppLifecycleEventDetails{Action: ActionStop},
			expected: "App stopped gracefully",
		},
		{
			name:     "unknown action",
			details:  AppLifecycleEventDetails{Action: "restart"},
			expected: "App restart",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := formatLifecycleSummary(tt.details)
			if summary != tt.expected {
				t.Errorf("expected '%s', got '%s'", tt.expected, summary)
			}
		})
	}
}

func BenchmarkEmitEvent(b *testing.B) {
	logger := zaptest.NewLogger(b)
	service, _ := NewService(Config{Enabled: false}, logger)
	storage := &MockEventStorage{}
	emitter := NewEventEmitter(service, logger, storage)

	ctx := context.Background()
	details := AppLifecycleEventDetails{Action: ActionStart, InterpreterPort: 8080, DatabasePort: 3306}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		emitter.EmitAppLifecycleEvent(ctx, "app-1", details)
	}
}
