package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cboxdk/wp-runtime-manager/internal/platform"
)

// ProcessSpec describes a process to launch
type ProcessSpec struct {
	Name string // "database", "interpreter", "initialize" or "cli" in logs
	Path string
	Args []string
	Dir  string
	Env  []string

	// LogPath receives stdout and stderr when Stdout and Stderr are nil
	LogPath string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Process is a spawned OS process owned by exactly one instance
type Process interface {
	PID() int

	// Done is closed once the process has exited and been reaped
	Done() <-chan struct{}

	// ExitErr is the result of waiting for the process. Only valid after Done.
	ExitErr() error

	// ExitCode is -1 until the process has exited
	ExitCode() int

	// Terminate asks the process to exit
	Terminate() error

	// Kill forcefully terminates the process and every process it spawned
	Kill(ctx context.Context) error
}

// Launcher starts processes in their own process group
type Launcher interface {
	Launch(ctx context.Context, spec ProcessSpec) (Process, error)
}

// ExecLauncher launches processes with os/exec
type ExecLauncher struct{}

// Launch starts spec. The process is not bound to ctx: instances outlive the
// request that started them.
func (ExecLauncher) Launch(_ context.Context, spec ProcessSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	platform.ConfigureProcessGroup(cmd)

	var logFile *os.File
	if spec.Stdout == nil && spec.Stderr == nil && spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open process log: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = spec.Stdout
		cmd.Stderr = spec.Stderr
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}

	p := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *execProcess) ExitCode() int {
	select {
	case <-p.done:
		return p.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return platform.Terminate(p.PID())
}

func (p *execProcess) Kill(ctx context.Context) error {
	select {
	case <-p.done:
		// The leader is gone but helpers may survive in its group
		return platform.KillGroup(p.PID())
	default:
	}
	return platform.KillTree(ctx, p.PID())
}

// waitExit waits for p to exit for at most timeout
func waitExit(p Process, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.Done():
		return true
	case <-timer.C:
		return false
	}
}

// isExpectedSignalExit reports whether a process exit was caused by our own
// termination signals
func isExpectedSignalExit(err error) bool {
	if err == nil {
		return true
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}

	switch exitErr.Error() {
	case "signal: terminated", "signal: killed", "signal: interrupt":
		return true
	}
	return false
}
