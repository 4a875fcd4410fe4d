package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/mysql"
	"github.com/cboxdk/wp-runtime-manager/internal/platform"
	"github.com/cboxdk/wp-runtime-manager/internal/provision"
	"github.com/cboxdk/wp-runtime-manager/internal/resilience"
	"github.com/cboxdk/wp-runtime-manager/internal/telemetry"
)

const (
	databaseLogName    = "database.log"
	interpreterLogName = "interpreter.log"

	// maxOutputTail bounds the process output quoted in errors
	maxOutputTail = 2048
)

// initializeDatabase runs the one-time data directory initialization when the
// data directory does not exist yet. On macOS a failed attempt is wiped and
// retried once. A directory left behind by a final failure is removed so the
// next start initializes again.
func (s *Supervisor) initializeDatabase(ctx context.Context, inst *instance) error {
	if err := inst.layout.EnsureRuntimeDirs(); err != nil {
		return fmt.Errorf("%w: %v", ErrInitializationFailure, err)
	}

	exists, err := inst.layout.DataDirExists()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitializationFailure, err)
	}
	if exists {
		s.logger.Debug("Data directory present, skipping initialization",
			zap.String("app_id", inst.appID),
			zap.String("data_dir", inst.layout.DataDir))
		return nil
	}

	ctx, span := s.tracer.StartSpan(ctx, telemetry.TraceDatabaseInit)
	defer span.End()

	policy := resilience.NoRetry("database initialization")
	if s.platform.OS == platform.Darwin {
		policy = resilience.Once("database initialization", s.logger)
	}

	err = resilience.Retry(ctx, policy,
		func(ctx context.Context) error {
			return s.runInitialize(ctx, inst)
		},
		func(_ context.Context, attempt int, err error) error {
			s.logger.Warn("Database initialization failed, wiping data directory before retry",
				zap.String("app_id", inst.appID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return inst.layout.WipeDataDirectory()
		})
	if err != nil {
		s.tracer.RecordError(span, err, "initialization")
		if wipeErr := inst.layout.WipeDataDirectory(); wipeErr != nil {
			s.logger.Warn("Failed to remove partial data directory",
				zap.String("app_id", inst.appID),
				zap.Error(wipeErr))
		}
		return fmt.Errorf("%w: %v", ErrInitializationFailure, err)
	}

	s.tracer.SetSpanSuccess(span)
	s.logger.Info("Database initialized",
		zap.String("app_id", inst.appID),
		zap.String("data_dir", inst.layout.DataDir))
	return nil
}

func (s *Supervisor) runInitialize(ctx context.Context, inst *instance) error {
	if _, err := inst.layout.InitializeDataDirectory(); err != nil {
		return err
	}

	var output bytes.Buffer
	proc, err := s.launcher.Launch(ctx, ProcessSpec{
		Name:   "initialize",
		Path:   inst.server.Path,
		Args:   inst.profile.InitArgs(inst.layout.DataDir, inst.server.BaseDir()),
		Dir:    inst.layout.AppPath,
		Stdout: &output,
		Stderr: &output,
	})
	if err != nil {
		return err
	}

	timeout := s.cfg.Timeouts.DatabaseInitialize
	if !waitExit(proc, timeout) {
		if err := proc.Kill(ctx); err != nil {
			s.logger.Warn("Failed to kill initialization", zap.Error(err))
		}
		<-proc.Done()
		return fmt.Errorf("initialization did not finish within %s", timeout)
	}

	if err := proc.ExitErr(); err != nil {
		return fmt.Errorf("initialization exited with code %d: %w: %s", proc.ExitCode(), err, tail(output.String()))
	}
	return nil
}

// startDatabase spawns the server and polls it until it accepts a query
func (s *Supervisor) startDatabase(ctx context.Context, inst *instance) error {
	ctx, span := s.tracer.StartSpan(ctx, telemetry.TraceDatabaseReady)
	defer span.End()

	args := inst.profile.ServerArgs(mysql.ServerOptions{
		DataDir: inst.layout.DataDir,
		BaseDir: inst.server.BaseDir(),
		Port:    inst.ports.Database,
		RunDir:  inst.layout.RuntimeDir,
	})

	proc, err := s.launcher.Launch(ctx, ProcessSpec{
		Name:    "database",
		Path:    inst.server.Path,
		Args:    args,
		Dir:     inst.layout.AppPath,
		LogPath: filepath.Join(inst.layout.LogsDir, databaseLogName),
	})
	if err != nil {
		s.tracer.RecordError(span, err, "spawn")
		return err
	}
	inst.database = proc

	s.logger.Debug("Database process spawned",
		zap.String("app_id", inst.appID),
		zap.Int("pid", proc.PID()),
		zap.Int("port", inst.ports.Database))

	if err := s.awaitDatabase(ctx, inst); err != nil {
		s.tracer.RecordError(span, err, "readiness")
		return err
	}

	s.tracer.SetSpanSuccess(span)
	return nil
}

// awaitDatabase polls at the configured interval until the server answers,
// exits, or the ceiling passes
func (s *Supervisor) awaitDatabase(ctx context.Context, inst *instance) error {
	deadline := time.NewTimer(s.cfg.Timeouts.DatabaseReady)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.Timeouts.ReadinessPoll)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		err := s.admin.Ping(ctx, inst.ports.Database)
		if err == nil {
			s.logger.Info("Database ready",
				zap.String("app_id", inst.appID),
				zap.Int("port", inst.ports.Database),
				zap.Int("attempts", attempts))
			return nil
		}

		select {
		case <-inst.database.Done():
			return fmt.Errorf("%w: database exited with code %d", ErrProcessExited, inst.database.ExitCode())
		case <-deadline.C:
			return fmt.Errorf("%w: database not ready after %s: %v", ErrStartupTimeout, s.cfg.Timeouts.DatabaseReady, err)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// configureDatabase creates the app database and adjusts root authentication
func (s *Supervisor) configureDatabase(ctx context.Context, inst *instance) error {
	name := s.cfg.Runtime.DatabaseName
	if err := s.admin.CreateDatabase(ctx, inst.ports.Database, name); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseCreation, err)
	}

	if stmt := inst.profile.AuthStatement; stmt != "" {
		if err := s.admin.Exec(ctx, inst.ports.Database, stmt); err != nil {
			s.logger.Warn("Continuing with default authentication",
				zap.String("app_id", inst.appID),
				zap.Error(fmt.Errorf("%w: %v", ErrAuthAdjustment, err)))
		}
	}
	return nil
}

// writeConfigs writes the app config once and the interpreter config always
func (s *Supervisor) writeConfigs(ctx context.Context, inst *instance) error {
	written, err := inst.layout.WriteAppConfig(provision.AppConfigParams{
		DatabaseName:    s.cfg.Runtime.DatabaseName,
		DatabasePort:    inst.ports.Database,
		ContentRootName: filepath.Base(inst.layout.ContentRoot),
		Debug:           s.cfg.Runtime.Development,
	})
	if err != nil {
		s.emitConfiguration(ctx, inst.appID, "failed", inst.layout.AppConfig, err)
		return err
	}
	if written {
		s.emitConfiguration(ctx, inst.appID, "written", inst.layout.AppConfig, nil)
	} else {
		s.emitConfiguration(ctx, inst.appID, "preserved", inst.layout.AppConfig, nil)
	}

	params := provision.InterpreterParams{Port: inst.ports.Interpreter}
	if s.platform.OS == platform.Windows {
		params.ExtensionDir, params.Extensions = windowsExtensions(inst.php.BaseDir())
	}
	if err := inst.layout.WriteInterpreterConfig(params); err != nil {
		s.emitConfiguration(ctx, inst.appID, "failed", inst.layout.InterpreterIni, err)
		return err
	}
	s.emitConfiguration(ctx, inst.appID, "regenerated", inst.layout.InterpreterIni, nil)
	return nil
}

// stopDatabase shuts the server down gracefully, racing the shutdown command
// against the exit of the process and the configured ceiling. On timeout the
// whole process tree is killed. forced reports whether that happened.
func (s *Supervisor) stopDatabase(ctx context.Context, inst *instance) (forced bool, err error) {
	proc := inst.database
	timeout := s.cfg.Timeouts.DatabaseShutdown

	select {
	case <-proc.Done():
		// Reap helpers left in its group
		return false, proc.Kill(ctx)
	default:
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- s.admin.Shutdown(shutdownCtx, inst.ports.Database)
	}()

	var cause error
	select {
	case <-proc.Done():
	case <-shutdownCtx.Done():
		cause = ErrShutdownTimeout
	case err := <-shutdownErr:
		if err != nil {
			cause = err
			break
		}
		// Shutdown acknowledged, wait for the exit within what remains
		select {
		case <-proc.Done():
		case <-shutdownCtx.Done():
			cause = ErrShutdownTimeout
		}
	}

	if cause == nil {
		if exitErr := proc.ExitErr(); !isExpectedSignalExit(exitErr) {
			s.logger.Debug("Database exited with error",
				zap.String("app_id", inst.appID),
				zap.Error(exitErr))
		}
		return false, nil
	}

	s.logger.Warn("Graceful database shutdown failed, killing process tree",
		zap.String("app_id", inst.appID),
		zap.Int("pid", proc.PID()),
		zap.Error(cause))

	if err := proc.Kill(ctx); err != nil {
		return true, fmt.Errorf("failed to kill database: %w", err)
	}
	if !waitExit(proc, timeout) {
		return true, errors.New("database did not exit after kill")
	}
	return true, nil
}

func (s *Supervisor) emitConfiguration(ctx context.Context, appID, action, path string, err error) {
	if s.events == nil {
		return
	}
	details := telemetry.ConfigurationEventDetails{Action: action, FilePath: path}
	if err != nil {
		details.Errors = []string{err.Error()}
	}
	_ = s.events.EmitConfigurationEvent(ctx, appID, details)
}

// tail returns the end of process output for error messages
func tail(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > maxOutputTail {
		output = "..." + output[len(output)-maxOutputTail:]
	}
	return output
}
