// Package supervisor runs one database server and one interpreter server per
// app and owns their whole lifecycle.
//
// A start walks the states Initializing, DatabaseStarting, DatabaseReady,
// ConfiguringApp, InterpreterStarting and Running in order. Any failure before
// Running rolls the instance back: spawned processes are terminated and nothing
// is registered. Operations on the same app are serialized; different apps
// proceed concurrently.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/config"
	"github.com/cboxdk/wp-runtime-manager/internal/installer"
	"github.com/cboxdk/wp-runtime-manager/internal/mysql"
	"github.com/cboxdk/wp-runtime-manager/internal/platform"
	"github.com/cboxdk/wp-runtime-manager/internal/ports"
	"github.com/cboxdk/wp-runtime-manager/internal/provision"
	"github.com/cboxdk/wp-runtime-manager/internal/storage"
	"github.com/cboxdk/wp-runtime-manager/internal/telemetry"
)

// instance is the runtime state of one app. Its processes are owned
// exclusively by it.
type instance struct {
	appID     string
	appPath   string
	layout    provision.Layout
	ports     ports.Pair
	allocated bool
	profile   mysql.Profile
	server    binaries.Resolution
	php       binaries.Resolution

	database    Process
	interpreter Process
	startedAt   time.Time
}

// Supervisor manages app instances
type Supervisor struct {
	cfg    *config.Config
	logger *zap.Logger

	launcher  Launcher
	admin     DatabaseAdmin
	detector  VersionDetector
	locator   BinaryLocator
	installer installer.Installer
	prompter  installer.Prompter
	allocator *ports.Allocator
	registry  AppRegistry
	events    *telemetry.EventEmitter
	metrics   MetricsRecorder
	tracer    *telemetry.TraceHelper
	platform  platform.Info

	// mu guards instances and phases
	mu        sync.RWMutex
	instances map[string]*instance
	phases    map[string]State

	locksMu sync.Mutex
	locks   map[string]*appLock

	// installMu serializes package manager runs across apps
	installMu sync.Mutex
}

type appLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a supervisor. Collaborators not supplied through options are
// built from cfg.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.New("supervisor requires a configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Supervisor{
		cfg:       cfg,
		logger:    logger.Named("supervisor"),
		instances: make(map[string]*instance),
		phases:    make(map[string]State),
		locks:     make(map[string]*appLock),
		platform:  platform.Detect(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.launcher == nil {
		s.launcher = ExecLauncher{}
	}
	if s.admin == nil {
		s.admin = mysql.NewAdmin(cfg.Timeouts.DatabaseAdminQuery, logger)
	}
	if s.detector == nil {
		s.detector = mysql.NewDetector(cfg.Timeouts.VersionProbe, nil, logger)
	}
	if s.allocator == nil {
		s.allocator = ports.NewAllocator(cfg.Ports.ScanWindow, cfg.Ports.MaxAttempts, logger)
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.tracer == nil {
		s.tracer = telemetry.NewTraceHelper(config.DefaultServiceName)
	}

	var locator *binaries.Locator
	if s.locator == nil {
		locator = binaries.NewLocator(binaries.Config{
			ResourcesDir: cfg.Runtime.ResourcesDir,
			UserDataDir:  cfg.Runtime.UserDataDir,
			Development:  cfg.Runtime.Development,
			SystemLookup: cfg.Runtime.SystemLookupEnabled(),
			SearchDirs:   cfg.Runtime.SearchDirs,
			OS:           s.platform.OS,
			Arch:         s.platform.Arch,
		})
		s.locator = locator
	}

	if s.installer == nil && locator != nil {
		inst, err := installer.ForPlatform(s.platform.OS, installer.Deps{
			Locator:     locator,
			Config:      cfg.Installer,
			Prompter:    s.prompter,
			UserDataDir: cfg.Runtime.UserDataDir,
			Logger:      logger,
		})
		if err != nil {
			s.logger.Warn("Dependency installation unavailable", zap.Error(err))
		} else {
			s.installer = inst
		}
	}

	return s, nil
}

// lockApp serializes operations for appID and returns the unlock function
func (s *Supervisor) lockApp(appID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[appID]
	if !ok {
		l = &appLock{}
		s.locks[appID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, appID)
		}
		s.locksMu.Unlock()
	}
}

// Start brings up the instance for appID and returns its ports. Starting a
// running app returns its existing ports.
func (s *Supervisor) Start(ctx context.Context, appID, appPath string) (ports.Pair, error) {
	unlock := s.lockApp(appID)
	defer unlock()

	if inst := s.lookup(appID); inst != nil {
		s.logger.Debug("App already running", zap.String("app_id", appID))
		return inst.ports, nil
	}

	started := time.Now()
	inst := &instance{
		appID:   appID,
		appPath: appPath,
		layout:  provision.NewLayout(appPath, s.cfg.Runtime.ContentRootName),
	}

	s.logger.Info("Starting app", zap.String("app_id", appID), zap.String("path", appPath))

	err := s.tracer.TraceAppOperationFunc(ctx, telemetry.TraceAppStart, appID, func(ctx context.Context) error {
		return s.bringUp(ctx, inst)
	})
	if err != nil {
		state := s.phase(appID)
		s.rollback(ctx, inst)
		s.metrics.StartFailed(appID, state)
		s.emitLifecycle(ctx, appID, telemetry.AppLifecycleEventDetails{
			Action: telemetry.ActionStartFailed,
			State:  string(state),
			Error:  err.Error(),
		})
		s.logger.Error("Failed to start app",
			zap.String("app_id", appID),
			zap.String("state", string(state)),
			zap.Error(err))
		return ports.Pair{}, &StartError{AppID: appID, State: state, Err: err}
	}

	inst.startedAt = time.Now()
	s.register(inst)

	if s.registry != nil {
		pair := inst.ports
		if err := s.registry.UpdateAppPorts(ctx, appID, &pair); err != nil && !errors.Is(err, storage.ErrAppNotFound) {
			s.logger.Warn("Failed to persist app ports", zap.String("app_id", appID), zap.Error(err))
		}
	}

	duration := time.Since(started)
	s.metrics.StartSucceeded(appID, duration)
	s.emitLifecycle(ctx, appID, telemetry.AppLifecycleEventDetails{
		Action:          telemetry.ActionStart,
		InterpreterPort: inst.ports.Interpreter,
		DatabasePort:    inst.ports.Database,
		DatabaseVersion: inst.profile.VersionString(),
		Duration:        duration.String(),
	})

	s.logger.Info("App started",
		zap.String("app_id", appID),
		zap.Int("interpreter_port", inst.ports.Interpreter),
		zap.Int("database_port", inst.ports.Database),
		zap.String("database_version", inst.profile.VersionString()),
		zap.Duration("duration", duration))

	return inst.ports, nil
}

// bringUp runs every start step up to, but excluding, registration
func (s *Supervisor) bringUp(ctx context.Context, inst *instance) error {
	s.transition(ctx, inst.appID, StateInitializing)

	resolved, err := s.requireBinaries(ctx)
	if err != nil {
		return err
	}
	inst.server = resolved[binaries.DatabaseServer]
	inst.php = resolved[binaries.Interpreter]

	pair, err := s.allocatePorts(ctx, inst.appID)
	if err != nil {
		return err
	}
	inst.ports = pair
	inst.allocated = true

	inst.profile = s.compatibilityProfile(ctx, inst)
	if err := inst.profile.Check(); err != nil {
		return err
	}

	if err := s.initializeDatabase(ctx, inst); err != nil {
		return err
	}

	s.transition(ctx, inst.appID, StateDatabaseStarting)
	if err := s.startDatabase(ctx, inst); err != nil {
		return err
	}

	s.transition(ctx, inst.appID, StateDatabaseReady)
	if err := s.configureDatabase(ctx, inst); err != nil {
		return err
	}

	s.transition(ctx, inst.appID, StateConfiguringApp)
	if err := s.writeConfigs(ctx, inst); err != nil {
		return err
	}
	if err := inst.layout.EnsureContentRoot(); err != nil {
		return err
	}

	s.transition(ctx, inst.appID, StateInterpreterStarting)
	if err := s.startInterpreter(ctx, inst); err != nil {
		return err
	}

	return nil
}

// requireBinaries resolves the interpreter and database server, installing
// them first when auto-install is enabled
func (s *Supervisor) requireBinaries(ctx context.Context) (map[binaries.Kind]binaries.Resolution, error) {
	available, missing := s.locator.CheckAll(binaries.RequiredKinds...)
	if !available && s.cfg.Runtime.AutoInstall && s.installer != nil {
		s.installMu.Lock()
		// Another app may have installed them while we waited
		available, missing = s.locator.CheckAll(binaries.RequiredKinds...)
		if !available {
			s.logger.Info("Required binaries missing, attempting installation",
				zap.Any("missing", missing))
			s.installLocked(ctx)
			available, missing = s.locator.CheckAll(binaries.RequiredKinds...)
		}
		s.installMu.Unlock()
	}
	if !available {
		return nil, &BinaryMissingError{Missing: missing}
	}

	resolved := make(map[binaries.Kind]binaries.Resolution, len(binaries.RequiredKinds))
	for _, kind := range binaries.RequiredKinds {
		res, err := s.locator.Resolve(kind)
		if err != nil {
			return nil, &BinaryMissingError{Missing: []binaries.Kind{kind}}
		}
		resolved[kind] = res
	}
	return resolved, nil
}

// allocatePorts allocates a pair, preferring the ports the app used last time,
// and re-probes both right before they are handed to the processes
func (s *Supervisor) allocatePorts(ctx context.Context, appID string) (ports.Pair, error) {
	preferred := ports.Pair{
		Interpreter: s.cfg.Ports.InterpreterDefault,
		Database:    s.cfg.Ports.DatabaseDefault,
	}
	if s.registry != nil {
		app, err := s.registry.FindApp(ctx, appID)
		switch {
		case err == nil && app.Ports != nil:
			preferred = *app.Ports
		case err != nil && !errors.Is(err, storage.ErrAppNotFound):
			s.logger.Warn("Failed to read previous ports", zap.String("app_id", appID), zap.Error(err))
		}
	}

	retries := s.cfg.Ports.PairRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		pair, err := s.allocator.AllocatePair(ctx, preferred.Interpreter, preferred.Database)
		if err != nil {
			return ports.Pair{}, err
		}
		if s.allocator.Probe(pair.Interpreter) && s.allocator.Probe(pair.Database) {
			return pair, nil
		}

		s.allocator.Release(pair.Interpreter, pair.Database)
		lastErr = fmt.Errorf("ports %d/%d taken before use: %w", pair.Interpreter, pair.Database, ports.ErrPortExhaustion)
		s.logger.Debug("Allocated ports no longer free, retrying",
			zap.String("app_id", appID),
			zap.Int("attempt", attempt),
			zap.Int("interpreter_port", pair.Interpreter),
			zap.Int("database_port", pair.Database))
	}
	return ports.Pair{}, lastErr
}

// compatibilityProfile detects the server version and derives its profile
func (s *Supervisor) compatibilityProfile(ctx context.Context, inst *instance) mysql.Profile {
	version := s.detector.Detect(ctx, inst.server.Path)
	profile := mysql.NewProfile(s.platform.OS, version, s.platform.Superuser, s.platform.Username)

	s.logger.Info("Database compatibility profile",
		zap.String("app_id", inst.appID),
		zap.String("version", profile.VersionString()),
		zap.Bool("user_flag", profile.IncludeUserFlag),
		zap.Bool("legacy_auth_flag", profile.IncludeLegacyAuthFlag),
		zap.Bool("refuse_superuser", profile.RefuseSuperuser))

	if s.events != nil {
		_ = s.events.EmitCompatibilityEvent(ctx, inst.appID, telemetry.CompatibilityEventDetails{
			Version:           profile.VersionString(),
			UserFlag:          profile.IncludeUserFlag,
			LegacyAuthFlag:    profile.IncludeLegacyAuthFlag,
			RefusingSuperuser: profile.RefuseSuperuser && profile.Superuser,
		})
	}
	return profile
}

// rollback tears down whatever a failed start left behind
func (s *Supervisor) rollback(ctx context.Context, inst *instance) {
	s.logger.Warn("Rolling back failed start", zap.String("app_id", inst.appID))

	if _, err := s.teardown(context.WithoutCancel(ctx), inst); err != nil {
		s.logger.Error("Rollback incomplete", zap.String("app_id", inst.appID), zap.Error(err))
	}
	s.clearPhase(inst.appID)
}

// Stop stops the instance for appID. Stopping an unknown app is a no-op.
// Failures are logged and the instance is always deregistered.
func (s *Supervisor) Stop(ctx context.Context, appID string) {
	unlock := s.lockApp(appID)
	defer unlock()

	if err := s.stopLocked(ctx, appID); err != nil {
		s.logger.Warn("App stopped with errors", zap.String("app_id", appID), zap.Error(err))
	}
}

func (s *Supervisor) stopLocked(ctx context.Context, appID string) error {
	inst := s.lookup(appID)
	if inst == nil {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	s.logger.Info("Stopping app", zap.String("app_id", appID))

	var forced bool
	err := s.tracer.TraceAppOperationFunc(ctx, telemetry.TraceAppStop, appID, func(ctx context.Context) error {
		s.transition(ctx, appID, StateStopping)
		var err error
		forced, err = s.teardown(ctx, inst)
		return err
	})

	s.deregister(appID)

	if s.registry != nil {
		if err := s.registry.UpdateAppPorts(ctx, appID, nil); err != nil && !errors.Is(err, storage.ErrAppNotFound) {
			s.logger.Warn("Failed to clear app ports", zap.String("app_id", appID), zap.Error(err))
		}
	}

	action := telemetry.ActionStop
	if forced {
		action = telemetry.ActionForceStop
	}
	s.metrics.Stopped(appID, forced)
	s.emitLifecycle(ctx, appID, telemetry.AppLifecycleEventDetails{
		Action:          action,
		InterpreterPort: inst.ports.Interpreter,
		DatabasePort:    inst.ports.Database,
	})

	s.logger.Info("App stopped", zap.String("app_id", appID), zap.Bool("forced", forced))
	return err
}

// teardown stops both processes of inst and releases its ports. forced
// reports whether the database had to be killed.
func (s *Supervisor) teardown(ctx context.Context, inst *instance) (forced bool, err error) {
	if inst.interpreter != nil {
		err = multierr.Append(err, s.stopInterpreter(ctx, inst))
	}
	if inst.database != nil {
		var dbErr error
		forced, dbErr = s.stopDatabase(ctx, inst)
		err = multierr.Append(err, dbErr)
	}
	if inst.allocated {
		s.allocator.Release(inst.ports.Interpreter, inst.ports.Database)
	}
	return forced, err
}

// StopAll stops every instance concurrently. One failure does not block the
// others; every collected error is returned for logging only. Starts still in
// progress are waited for and then stopped.
func (s *Supervisor) StopAll(ctx context.Context) error {
	ids := s.knownApps()

	if len(ids) == 0 {
		return nil
	}

	s.logger.Info("Stopping all apps", zap.Int("count", len(ids)))

	var (
		errMu sync.Mutex
		errs  error
		g     errgroup.Group
	)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			unlock := s.lockApp(id)
			defer unlock()

			if err := s.stopLocked(ctx, id); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	for _, id := range ids {
		delete(s.instances, id)
		delete(s.phases, id)
	}
	running := len(s.instances)
	s.mu.Unlock()
	s.metrics.InstancesRunning(running)

	return errs
}

// knownApps returns every app that is registered, mid-transition or holding
// its operation lock
func (s *Supervisor) knownApps() []string {
	seen := make(map[string]struct{})

	s.mu.RLock()
	for id := range s.instances {
		seen[id] = struct{}{}
	}
	for id := range s.phases {
		seen[id] = struct{}{}
	}
	s.mu.RUnlock()

	s.locksMu.Lock()
	for id := range s.locks {
		seen[id] = struct{}{}
	}
	s.locksMu.Unlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRunning reports whether appID has a running instance
func (s *Supervisor) IsRunning(appID string) bool {
	return s.lookup(appID) != nil
}

// GetRunningProcesses returns the ports of every running instance
func (s *Supervisor) GetRunningProcesses() map[string]ports.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]ports.Pair, len(s.instances))
	for id, inst := range s.instances {
		result[id] = inst.ports
	}
	return result
}

// Status returns a snapshot of appID, including in-progress states
func (s *Supervisor) Status(appID string) InstanceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := InstanceStatus{AppID: appID, State: StateAbsent}
	if phase, ok := s.phases[appID]; ok {
		status.State = phase
	}

	inst, ok := s.instances[appID]
	if !ok {
		return status
	}

	pair := inst.ports
	started := inst.startedAt
	status.AppPath = inst.appPath
	status.Ports = &pair
	status.DatabaseVersion = inst.profile.VersionString()
	status.StartedAt = &started
	if inst.database != nil {
		status.DatabasePID = inst.database.PID()
	}
	if inst.interpreter != nil {
		status.InterpreterPID = inst.interpreter.PID()
	}
	return status
}

// List returns the status of every known instance ordered by app id
func (s *Supervisor) List() []InstanceStatus {
	s.mu.RLock()
	ids := make([]string, 0, len(s.phases))
	for id := range s.phases {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	result := make([]InstanceStatus, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.Status(id))
	}
	return result
}

// CheckBinaries reports which required binaries are missing
func (s *Supervisor) CheckBinaries() BinaryCheck {
	available, missing := s.locator.CheckAll(binaries.RequiredKinds...)

	check := BinaryCheck{
		Available: available,
		Missing:   make([]string, 0, len(missing)),
		Resolved:  make(map[string]string),
	}
	for _, kind := range missing {
		check.Missing = append(check.Missing, string(kind))
	}
	for _, kind := range binaries.AllKinds {
		if res, err := s.locator.Resolve(kind); err == nil {
			check.Resolved[string(kind)] = res.Path
		}
	}
	return check
}

// InstallDependencies installs whatever the platform installer reports as
// missing. Only one installation runs at a time.
func (s *Supervisor) InstallDependencies(ctx context.Context) installer.Result {
	s.installMu.Lock()
	defer s.installMu.Unlock()
	return s.installLocked(ctx)
}

func (s *Supervisor) installLocked(ctx context.Context) installer.Result {
	if s.installer == nil {
		result := installer.Result{
			Errors: []string{fmt.Sprintf("no installer for platform %s", s.platform.OS)},
		}
		s.metrics.InstallFinished(s.platform.OS, false)
		return result
	}

	var result installer.Result
	_ = s.tracer.TraceInstallFunc(ctx, s.installer.Platform(), func(ctx context.Context) error {
		result = s.installer.Install(ctx, nil)
		return result.Err()
	})

	s.metrics.InstallFinished(s.installer.Platform(), result.Success)

	if s.events != nil {
		details := telemetry.InstallationEventDetails{
			Platform: s.installer.Platform(),
			Errors:   result.Errors,
			Declined: result.Declined,
		}
		for _, kind := range result.Installed {
			details.Installed = append(details.Installed, string(kind))
		}
		_ = s.events.EmitInstallationEvent(ctx, details)
	}

	s.logger.Info("Dependency installation finished",
		zap.Bool("success", result.Success),
		zap.Int("installed", len(result.Installed)),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("declined", result.Declined))

	return result
}

func (s *Supervisor) lookup(appID string) *instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[appID]
}

func (s *Supervisor) register(inst *instance) {
	s.mu.Lock()
	s.instances[inst.appID] = inst
	s.phases[inst.appID] = StateRunning
	running := len(s.instances)
	s.mu.Unlock()

	s.metrics.InstancesRunning(running)
}

func (s *Supervisor) deregister(appID string) {
	s.mu.Lock()
	delete(s.instances, appID)
	delete(s.phases, appID)
	running := len(s.instances)
	s.mu.Unlock()

	s.metrics.InstancesRunning(running)
}

func (s *Supervisor) transition(ctx context.Context, appID string, state State) {
	s.mu.Lock()
	s.phases[appID] = state
	s.mu.Unlock()

	s.tracer.RecordTransition(ctx, string(state))
	s.logger.Debug("State transition", zap.String("app_id", appID), zap.String("state", string(state)))
}

func (s *Supervisor) phase(appID string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.phases[appID]; ok {
		return state
	}
	return StateAbsent
}

func (s *Supervisor) clearPhase(appID string) {
	s.mu.Lock()
	if _, running := s.instances[appID]; !running {
		delete(s.phases, appID)
	}
	s.mu.Unlock()
}

func (s *Supervisor) emitLifecycle(ctx context.Context, appID string, details telemetry.AppLifecycleEventDetails) {
	if s.events == nil {
		return
	}
	if err := s.events.EmitAppLifecycleEvent(ctx, appID, details); err != nil {
		s.logger.Debug("Failed to emit lifecycle event", zap.String("app_id", appID), zap.Error(err))
	}
}
