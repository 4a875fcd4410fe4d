package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cboxdk/wp-runtime-manager/internal/api"
	"github.com/cboxdk/wp-runtime-manager/internal/config"
	"github.com/cboxdk/wp-runtime-manager/internal/metrics"
	"github.com/cboxdk/wp-runtime-manager/internal/ports"
	"github.com/cboxdk/wp-runtime-manager/internal/prometheus"
	"github.com/cboxdk/wp-runtime-manager/internal/security"
	"github.com/cboxdk/wp-runtime-manager/internal/storage"
	"github.com/cboxdk/wp-runtime-manager/internal/supervisor"
	"github.com/cboxdk/wp-runtime-manager/internal/telemetry"
)

// Runtime is the part of the supervisor the manager drives
type Runtime interface {
	Start(ctx context.Context, appID, appPath string) (ports.Pair, error)
	StopAll(ctx context.Context) error
	CheckBinaries() supervisor.BinaryCheck
}

// AppRegistrar records apps started by the manager
type AppRegistrar interface {
	RegisterApp(ctx context.Context, id, path, appType string) error
}

type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type server interface {
	Start(ctx context.Context) error
}

// AppSpec names an app started together with the manager
type AppSpec struct {
	ID   string
	Path string
}

// Manager coordinates all system components
type Manager struct {
	config *config.Config
	logger *zap.Logger

	supervisor Runtime
	registry   AppRegistrar
	storage    lifecycle
	telemetry  lifecycle
	exporter   server

	// concrete supervisor, nil when built from mocks
	runtime *supervisor.Supervisor

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	autostart []AppSpec

	events chan ManagerEvent
}

// ManagerEvent represents events from the manager
type ManagerEvent struct {
	Type      ManagerEventType `json:"type"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Error     error            `json:"error,omitempty"`
}

// ManagerEventType defines types of manager events
type ManagerEventType string

const (
	ManagerEventStarting   ManagerEventType = "starting"
	ManagerEventStarted    ManagerEventType = "started"
	ManagerEventAppStarted ManagerEventType = "app_started"
	ManagerEventStopping   ManagerEventType = "stopping"
	ManagerEventStopped    ManagerEventType = "stopped"
	ManagerEventError      ManagerEventType = "error"
)

// NewManager builds every component from cfg
func NewManager(cfg *config.Config, logger *zap.Logger, version string) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	telemetryService, err := telemetry.NewService(cfg.Telemetry, logger)
	if err != nil {
		store.Stop(context.Background())
		return nil, fmt.Errorf("failed to create telemetry service: %w", err)
	}

	eventEmitter := telemetry.NewEventEmitter(telemetryService, logger, store.Events())

	opts := []supervisor.Option{
		supervisor.WithRegistry(store.Apps()),
		supervisor.WithEvents(eventEmitter),
		supervisor.WithTracer(telemetryService.GetTraceHelper()),
	}

	var exporter *prometheus.Exporter
	if cfg.Server.Enabled {
		exporter, err = prometheus.NewExporter(cfg.Server, logger)
		if err != nil {
			store.Stop(context.Background())
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		allocator := ports.NewAllocator(cfg.Ports.ScanWindow, cfg.Ports.MaxAttempts, logger,
			ports.WithObserver(exporter.PortAllocation))
		opts = append(opts, supervisor.WithMetrics(exporter), supervisor.WithAllocator(allocator))
	}

	processSupervisor, err := supervisor.New(cfg, logger, opts...)
	if err != nil {
		store.Stop(context.Background())
		return nil, fmt.Errorf("failed to create supervisor: %w", err)
	}

	m := &Manager{
		config:     cfg,
		logger:     logger.Named("manager"),
		supervisor: processSupervisor,
		runtime:    processSupervisor,
		registry:   store.Apps(),
		storage:    store,
		telemetry:  telemetryService,
		events:     make(chan ManagerEvent, config.DefaultEventChannelBuffer),
	}

	if exporter != nil {
		if err := exporter.RegisterCollector(metrics.NewProcessCollector(processSupervisor, nil, logger)); err != nil {
			store.Stop(context.Background())
			return nil, err
		}
		if cfg.Server.API.Enabled {
			exporter.SetAPIServer(api.NewServer(logger, processSupervisor, store.Apps(), store.Events(), version))
		}
		m.exporter = exporter
	}

	return m, nil
}

// Supervisor returns the process supervisor
func (m *Manager) Supervisor() *supervisor.Supervisor {
	return m.runtime
}

// Autostart queues apps to start once the manager is running. It must be
// called before Run.
func (m *Manager) Autostart(apps ...AppSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autostart = append(m.autostart, apps...)
}

// Run starts every component, then blocks until ctx is cancelled or a
// component fails. All app instances are stopped before it returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager is already running")
	}
	m.running = true
	m.startTime = time.Now()
	autostart := append([]AppSpec(nil), m.autostart...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.emitEvent(ManagerEventStarting, "Starting wp-runtime-manager", nil)

	if err := m.performPreflightChecks(); err != nil {
		m.emitEvent(ManagerEventError, "Pre-flight checks failed", err)
		return fmt.Errorf("pre-flight checks failed: %w", err)
	}

	if err := m.storage.Start(ctx); err != nil {
		return fmt.Errorf("failed to start storage: %w", err)
	}
	if err := m.telemetry.Start(ctx); err != nil {
		m.storage.Stop(context.Background())
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	if m.exporter != nil {
		g.Go(func() error {
			return m.exporter.Start(gCtx)
		})
	}

	g.Go(func() error {
		return m.processEvents(gCtx)
	})

	if len(autostart) > 0 {
		g.Go(func() error {
			for _, spec := range autostart {
				pair, err := m.StartApp(gCtx, spec.ID, spec.Path)
				if err != nil {
					m.emitEvent(ManagerEventError, "Autostart failed for "+spec.ID, err)
					return err
				}
				m.logger.Info("App running",
					zap.String("app_id", spec.ID),
					zap.Int("interpreter_port", pair.Interpreter),
					zap.Int("database_port", pair.Database))
			}
			return nil
		})
	}

	m.emitEvent(ManagerEventStarted, "Manager started", nil)
	m.logger.Info("Manager started successfully",
		zap.Bool("http_server", m.exporter != nil),
		zap.Int("autostart", len(autostart)),
		zap.Duration("startup_time", time.Since(m.startTime)))

	err := g.Wait()

	m.emitEvent(ManagerEventStopping, "Stopping app instances", nil)
	if shutdownErr := m.shutdown(); shutdownErr != nil {
		m.logger.Error("Shutdown completed with errors", zap.Error(shutdownErr))
		err = multierr.Append(err, shutdownErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("Manager stopped with error", zap.Error(err))
		return err
	}

	m.logger.Info("Manager stopped gracefully")
	return nil
}

// StartApp registers and starts one app
func (m *Manager) StartApp(ctx context.Context, appID, appPath string) (ports.Pair, error) {
	if err := security.ValidateAppID(appID); err != nil {
		return ports.Pair{}, err
	}
	if err := security.ValidateAppPath(appPath); err != nil {
		return ports.Pair{}, err
	}

	if m.registry != nil {
		if err := m.registry.RegisterApp(ctx, appID, appPath, ""); err != nil {
			return ports.Pair{}, fmt.Errorf("failed to register app %s: %w", appID, err)
		}
	}

	pair, err := m.supervisor.Start(ctx, appID, appPath)
	if err != nil {
		return ports.Pair{}, err
	}

	m.emitEvent(ManagerEventAppStarted, "Started "+appID, nil)
	return pair, nil
}

// shutdown stops every instance, then telemetry and storage
func (m *Manager) shutdown() error {
	timeout := m.config.Timeouts.InterpreterStop + m.config.Timeouts.DatabaseShutdown + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs error
	if err := m.supervisor.StopAll(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to stop instances: %w", err))
	}
	if err := m.telemetry.Stop(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to stop telemetry: %w", err))
	}
	if err := m.storage.Stop(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to stop storage: %w", err))
	}

	m.emitEvent(ManagerEventStopped, "Manager stopped", errs)
	return errs
}

// processEvents logs manager events until ctx is done
func (m *Manager) processEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-m.events:
			m.logger.Info("Manager event",
				zap.String("type", string(event.Type)),
				zap.String("message", event.Message),
				zap.Error(event.Error))
		}
	}
}

// emitEvent emits a manager event
func (m *Manager) emitEvent(eventType ManagerEventType, message string, err error) {
	event := ManagerEvent{
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
		Error:     err,
	}

	select {
	case m.events <- event:
	default:
		m.logger.Warn("Event channel full, dropping event",
			zap.String("type", string(eventType)),
			zap.String("message", message))
	}
}

// performPreflightChecks validates the environment before any component starts
func (m *Manager) performPreflightChecks() error {
	m.logger.Info("Performing pre-flight checks")

	if m.exporter != nil && m.config.Server.BindAddress != "" {
		if err := m.checkBindAddressAvailable(m.config.Server.BindAddress); err != nil {
			return fmt.Errorf("server bind address %s is not available: %w", m.config.Server.BindAddress, err)
		}
	}

	if err := m.validateStorageDirectories(); err != nil {
		return fmt.Errorf("storage directory validation failed: %w", err)
	}

	if check := m.supervisor.CheckBinaries(); !check.Available {
		m.logger.Warn("Required binaries are missing; apps will not start until they are installed",
			zap.Strings("missing", check.Missing),
			zap.Bool("auto_install", m.config.Runtime.AutoInstall))
	}

	m.logger.Info("All pre-flight checks passed successfully")
	return nil
}

// checkBindAddressAvailable checks if a bind address is available for binding
func (m *Manager) checkBindAddressAvailable(bindAddress string) error {
	listener, err := net.Listen("tcp", bindAddress)
	if err != nil {
		return fmt.Errorf("address is already in use or cannot be bound: %w", err)
	}
	return listener.Close()
}

// validateStorageDirectories ensures the registry and user data directories
// exist and are writable
func (m *Manager) validateStorageDirectories() error {
	dirs := make([]string, 0, 2)
	if path := m.config.Storage.DatabasePath; path != "" && path != ":memory:" {
		dirs = append(dirs, filepath.Dir(path))
	}
	if m.config.Runtime.UserDataDir != "" {
		dirs = append(dirs, m.config.Runtime.UserDataDir)
	}

	for _, dir := range dirs {
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		tempFile := filepath.Join(dir, ".write_test")
		file, err := os.Create(tempFile)
		if err != nil {
			return fmt.Errorf("directory is not writable: %s: %w", dir, err)
		}
		file.Close()
		os.Remove(tempFile)
	}

	return nil
}

// IsRunning returns true if the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
