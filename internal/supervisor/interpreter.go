package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// windowsExtensionNames are enabled when the portable interpreter ships an ext directory
var windowsExtensionNames = []string{"curl", "fileinfo", "gd", "mbstring", "mysqli", "openssl", "pdo_mysql", "zip"}

// startInterpreter spawns the built-in web server and waits out the grace
// period. The server offers no readiness probe, so surviving the grace period
// counts as started.
func (s *Supervisor) startInterpreter(ctx context.Context, inst *instance) error {
	proc, err := s.launcher.Launch(ctx, ProcessSpec{
		Name: "interpreter",
		Path: inst.php.Path,
		Args: []string{
			"-S", "127.0.0.1:" + strconv.Itoa(inst.ports.Interpreter),
			"-t", inst.layout.ContentRoot,
			"-c", inst.layout.InterpreterIni,
		},
		Dir:     inst.layout.ContentRoot,
		LogPath: filepath.Join(inst.layout.LogsDir, interpreterLogName),
	})
	if err != nil {
		return err
	}
	inst.interpreter = proc

	s.logger.Debug("Interpreter process spawned",
		zap.String("app_id", inst.appID),
		zap.Int("pid", proc.PID()),
		zap.Int("port", inst.ports.Interpreter))

	if waitExit(proc, s.cfg.Timeouts.InterpreterGrace) {
		return fmt.Errorf("%w: interpreter exited with code %d", ErrProcessExited, proc.ExitCode())
	}
	return nil
}

// stopInterpreter terminates the interpreter and kills it when it outlives the
// stop timeout
func (s *Supervisor) stopInterpreter(ctx context.Context, inst *instance) error {
	proc := inst.interpreter

	if err := proc.Terminate(); err != nil {
		s.logger.Debug("Terminate failed, killing interpreter",
			zap.String("app_id", inst.appID),
			zap.Error(err))
	} else if waitExit(proc, s.cfg.Timeouts.InterpreterStop) {
		return nil
	}

	s.logger.Warn("Interpreter did not exit, killing",
		zap.String("app_id", inst.appID),
		zap.Int("pid", proc.PID()))
	if err := proc.Kill(ctx); err != nil {
		return fmt.Errorf("failed to kill interpreter: %w", err)
	}
	waitExit(proc, s.cfg.Timeouts.InterpreterStop)
	return nil
}

// windowsExtensions returns the extension directory and the extensions to
// enable, or nothing when baseDir has no ext directory
func windowsExtensions(baseDir string) (string, []string) {
	if baseDir == "" {
		return "", nil
	}
	extDir := filepath.Join(baseDir, "ext")
	info, err := os.Stat(extDir)
	if err != nil || !info.IsDir() {
		return "", nil
	}
	return extDir, windowsExtensionNames
}
