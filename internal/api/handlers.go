// Package api exposes the supervisor over a small JSON HTTP API: app
// lifecycle, binary checks, dependency installation, cli passthrough and the
// event history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/config"
	"github.com/cboxdk/wp-runtime-manager/internal/installer"
	"github.com/cboxdk/wp-runtime-manager/internal/ports"
	"github.com/cboxdk/wp-runtime-manager/internal/security"
	"github.com/cboxdk/wp-runtime-manager/internal/storage"
	"github.com/cboxdk/wp-runtime-manager/internal/supervisor"
	"github.com/cboxdk/wp-runtime-manager/internal/telemetry"
)

// Server represents the API server
type Server struct {
	logger     *zap.Logger
	supervisor SupervisorInterface
	apps       AppStoreInterface
	events     EventStorageInterface
	startTime  time.Time
	version    string
}

// SupervisorInterface defines the supervisor operations used by the API
type SupervisorInterface interface {
	Start(ctx context.Context, appID, appPath string) (ports.Pair, error)
	Stop(ctx context.Context, appID string)
	IsRunning(appID string) bool
	Status(appID string) supervisor.InstanceStatus
	List() []supervisor.InstanceStatus
	CheckBinaries() supervisor.BinaryCheck
	InstallDependencies(ctx context.Context) installer.Result
	RunCLI(ctx context.Context, appID string, args []string) (supervisor.CLIResult, error)
}

// AppStoreInterface defines the app registry operations used by the API
type AppStoreInterface interface {
	RegisterApp(ctx context.Context, id, path, appType string) error
	FindApp(ctx context.Context, id string) (*storage.App, error)
	ListApps(ctx context.Context) ([]storage.App, error)
}

// EventStorageInterface defines the interface for event storage operations
type EventStorageInterface interface {
	GetEvents(ctx context.Context, filter telemetry.EventFilter) ([]telemetry.Event, error)
	GetEventStats(ctx context.Context) (storage.EventStats, error)
}

// NewServer creates a new API server instance. apps and events may be nil
// when storage is disabled.
func NewServer(logger *zap.Logger, sup SupervisorInterface, apps AppStoreInterface, events EventStorageInterface, version string) *Server {
	return &Server{
		logger:     logger.Named("api"),
		supervisor: sup,
		apps:       apps,
		events:     events,
		startTime:  time.Now(),
		version:    version,
	}
}

// generateRequestID generates a unique request ID
func (s *Server) generateRequestID() string {
	return "req_" + uuid.NewString()
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// SetupRoutes registers the API routes relative to the mount point
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	// Apps
	mux.HandleFunc("GET /apps", s.ValidationMiddleware(HandlerConfig{}, s.ListAppsHandler))
	mux.HandleFunc("GET /apps/{id}", s.ValidationMiddleware(HandlerConfig{}, s.AppDetailHandler))
	mux.HandleFunc("POST /apps/{id}/start", s.ValidationMiddleware(HandlerConfig{
		NewRequest:   func() interface{} { return &StartRequest{} },
		LogOperation: "start",
	}, s.StartHandler))
	mux.HandleFunc("POST /apps/{id}/stop", s.ValidationMiddleware(HandlerConfig{
		LogOperation: "stop",
	}, s.StopHandler))
	mux.HandleFunc("POST /apps/{id}/cli", s.ValidationMiddleware(HandlerConfig{
		NewRequest:   func() interface{} { return &CLIRequest{} },
		RequireBody:  true,
		LogOperation: "cli",
	}, s.CLIHandler))

	// Runtime dependencies
	mux.HandleFunc("GET /binaries", s.ValidationMiddleware(HandlerConfig{}, s.BinariesHandler))
	mux.HandleFunc("POST /dependencies/install", s.ValidationMiddleware(HandlerConfig{
		LogOperation: "install",
	}, s.InstallHandler))

	// Events
	mux.HandleFunc("GET /events", s.ValidationMiddleware(HandlerConfig{}, s.EventsHandler))
	mux.HandleFunc("GET /events/stats", s.ValidationMiddleware(HandlerConfig{}, s.EventStatsHandler))

	mux.HandleFunc("GET /health", s.HandleHealth)
}

// Handler returns the API routes wrapped in recovery and access logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return RecoveryMiddleware(s.logger)(s.AccessLogMiddleware(mux))
}

// ListAppsHandler merges registered apps with the running instances
func (s *Server) ListAppsHandler(r *http.Request, _ interface{}) (interface{}, error) {
	byID := make(map[string]AppSummary)

	if s.apps != nil {
		registered, err := s.apps.ListApps(r.Context())
		if err != nil {
			return nil, ErrServiceUnavailable("storage", err)
		}
		for _, app := range registered {
			byID[app.ID] = AppSummary{
				ID:         app.ID,
				Path:       app.Path,
				Type:       app.Type,
				Registered: true,
				Status:     s.supervisor.Status(app.ID),
			}
		}
	}

	statuses := s.supervisor.List()
	for _, status := range statuses {
		summary, ok := byID[status.AppID]
		if !ok {
			summary = AppSummary{ID: status.AppID, Path: status.AppPath}
		}
		summary.Status = status
		byID[status.AppID] = summary
	}

	apps := make([]AppSummary, 0, len(byID))
	for _, summary := range byID {
		apps = append(apps, summary)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })

	return AppListResponse{Apps: apps, Count: len(apps), Running: countRunning(statuses)}, nil
}

// AppDetailHandler handles GET /apps/{id}
func (s *Server) AppDetailHandler(r *http.Request, _ interface{}) (interface{}, error) {
	appID, err := s.appID(r)
	if err != nil {
		return nil, err
	}

	summary := AppSummary{ID: appID, Status: s.supervisor.Status(appID)}

	app, err := s.findApp(r.Context(), appID)
	if err != nil {
		return nil, err
	}
	if app != nil {
		summary.Path = app.Path
		summary.Type = app.Type
		summary.Registered = true
	} else if !s.supervisor.IsRunning(appID) {
		return nil, ErrAppNotFound(appID)
	} else {
		summary.Path = summary.Status.AppPath
	}

	return summary, nil
}

// StartHandler registers the app when a path is given and starts its runtime
func (s *Server) StartHandler(r *http.Request, req interface{}) (interface{}, error) {
	appID, err := s.appID(r)
	if err != nil {
		return nil, err
	}
	startReq := req.(*StartRequest)
	ctx := r.Context()

	appPath := startReq.Path
	if appPath == "" {
		app, err := s.findApp(ctx, appID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			return nil, ErrMissingParameter("path")
		}
		appPath = app.Path
	}
	if err := security.ValidateAppPath(appPath); err != nil {
		return nil, ErrInvalidParameter("path", err.Error())
	}

	if s.apps != nil && startReq.Path != "" {
		if err := s.apps.RegisterApp(ctx, appID, appPath, startReq.Type); err != nil {
			return nil, ErrServiceUnavailable("storage", err)
		}
	}

	pair, err := s.supervisor.Start(ctx, appID, appPath)
	if err != nil {
		return nil, ErrAppStartFailed(appID, err)
	}

	return StartResponse{AppID: appID, Ports: pair}, nil
}

// StopHandler stops the app. Stopping an app that is not running succeeds.
func (s *Server) StopHandler(r *http.Request, _ interface{}) (interface{}, error) {
	appID, err := s.appID(r)
	if err != nil {
		return nil, err
	}

	s.supervisor.Stop(r.Context(), appID)

	return OperationResponse{AppID: appID, Running: s.supervisor.IsRunning(appID)}, nil
}

// CLIHandler runs the cli tool against a running app
func (s *Server) CLIHandler(r *http.Request, req interface{}) (interface{}, error) {
	appID, err := s.appID(r)
	if err != nil {
		return nil, err
	}

	args := req.(*CLIRequest).Args
	if err := security.ValidateCLIArgs(args); err != nil {
		return nil, ErrInvalidParameter("args", err.Error())
	}

	result, err := s.supervisor.RunCLI(r.Context(), appID, args)
	if err != nil {
		var missing *supervisor.BinaryMissingError
		if errors.As(err, &missing) {
			return nil, ErrAppStartFailed(appID, err)
		}
		return nil, mapError(appID, err)
	}

	return result, nil
}

// BinariesHandler reports which runtime binaries resolve
func (s *Server) BinariesHandler(_ *http.Request, _ interface{}) (interface{}, error) {
	return s.supervisor.CheckBinaries(), nil
}

// InstallHandler runs the platform dependency installer
func (s *Server) InstallHandler(r *http.Request, _ interface{}) (interface{}, error) {
	result := s.supervisor.InstallDependencies(r.Context())
	if !result.Success && len(result.Installed) == 0 && len(result.Instructions) == 0 {
		be := NewError("install_failed", "Dependency installation failed").
			WithStatus(http.StatusInternalServerError).
			WithContext("errors", result.Errors).
			WithHelpURL("/docs/installation")
		if err := result.Err(); err != nil {
			be.WithDetails(err.Error())
		}
		return nil, be.Build()
	}
	return result, nil
}

// EventsHandler returns stored events matching the query filter
func (s *Server) EventsHandler(r *http.Request, _ interface{}) (interface{}, error) {
	if s.events == nil {
		return nil, ErrServiceUnavailable("events", errors.New("event storage not available"))
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		return nil, err
	}

	events, err := s.events.GetEvents(r.Context(), filter)
	if err != nil {
		return nil, ErrInternalError("get_events", err)
	}

	return map[string]interface{}{
		"events": events,
		"count":  len(events),
	}, nil
}

// EventStatsHandler returns aggregate event counts
func (s *Server) EventStatsHandler(r *http.Request, _ interface{}) (interface{}, error) {
	if s.events == nil {
		return nil, ErrServiceUnavailable("events", errors.New("event storage not available"))
	}

	stats, err := s.events.GetEventStats(r.Context())
	if err != nil {
		return nil, ErrInternalError("get_event_stats", err)
	}
	return stats, nil
}

// HandleHealth handles GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	check := s.supervisor.CheckBinaries()

	status := "healthy"
	if !check.Available {
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   s.version,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
		Running:   countRunning(s.supervisor.List()),
		Binaries:  check.Available,
	})
}

// appID extracts and validates the {id} path value
func (s *Server) appID(r *http.Request) (string, error) {
	appID := r.PathValue("id")
	if err := security.ValidateAppID(appID); err != nil {
		return "", ErrInvalidParameter("id", err.Error())
	}
	return appID, nil
}

// findApp looks up a registered app. It returns nil when storage is
// disabled or the app is unknown.
func (s *Server) findApp(ctx context.Context, appID string) (*storage.App, error) {
	if s.apps == nil {
		return nil, nil
	}
	app, err := s.apps.FindApp(ctx, appID)
	if errors.Is(err, storage.ErrAppNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrServiceUnavailable("storage", err)
	}
	return app, nil
}

func countRunning(statuses []supervisor.InstanceStatus) int {
	n := 0
	for _, status := range statuses {
		if status.State == supervisor.StateRunning {
			n++
		}
	}
	return n
}

func parseEventFilter(r *http.Request) (telemetry.EventFilter, error) {
	query := r.URL.Query()
	filter := telemetry.EventFilter{Limit: config.DefaultEventLimit}

	if startTime := query.Get("start_time"); startTime != "" {
		t, err := time.Parse(time.RFC3339, startTime)
		if err != nil {
			return filter, ErrInvalidParameter("start_time", "must be an RFC3339 timestamp")
		}
		filter.StartTime = t
	}

	if endTime := query.Get("end_time"); endTime != "" {
		t, err := time.Parse(time.RFC3339, endTime)
		if err != nil {
			return filter, ErrInvalidParameter("end_time", "must be an RFC3339 timestamp")
		}
		filter.EndTime = t
	}

	if appID := query.Get("app_id"); appID != "" {
		if err := security.ValidateAppID(appID); err != nil {
			return filter, ErrInvalidParameter("app_id", err.Error())
		}
		filter.AppID = appID
	}

	if eventType := query.Get("type"); eventType != "" {
		filter.Type = telemetry.EventType(eventType)
	}

	if severity := query.Get("severity"); severity != "" {
		filter.Severity = telemetry.EventSeverity(severity)
	}

	if limit := query.Get("limit"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 || l > config.MaxEventQueryLimit {
			return filter, ErrInvalidParameter("limit", "must be between 1 and "+strconv.Itoa(config.MaxEventQueryLimit))
		}
		filter.Limit = l
	}

	return filter, nil
}
