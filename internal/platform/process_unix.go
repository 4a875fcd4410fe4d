//go:build !windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func isSuperuser() bool {
	return unix.Geteuid() == 0
}

// ConfigureProcessGroup places the command in a new process group so the whole
// tree can be signalled at once
func ConfigureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Terminate asks the process to exit gracefully
func Terminate(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to send SIGTERM to %d: %w", pid, err)
	}
	return nil
}

// KillTree forcefully terminates the process group led by pid, falling back to
// the single process when the group is gone
func KillTree(_ context.Context, pid int) error {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		pgid = pid
	}

	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("failed to kill process %d: %w", pid, err)
		}
	}
	return nil
}

// KillGroup kills what remains of a process group whose leader was already
// reaped. Processes started with ConfigureProcessGroup lead a group whose id
// equals their pid.
//
// The kernel does not hand out a pid while it is still in use as a group id,
// so a live process holding pgid means the old group is empty and the id now
// belongs to someone else.
func KillGroup(pgid int) error {
	if _, err := unix.Getpgid(pgid); err == nil {
		return nil
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to kill process group %d: %w", pgid, err)
	}
	return nil
}
