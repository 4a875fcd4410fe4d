//go:build windows

package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

func isSuperuser() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

// ConfigureProcessGroup starts the command in its own process group
func ConfigureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// Terminate asks the process tree to close without forcing it
func Terminate(pid int) error {
	out, err := exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T").CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill /T failed for %d: %w: %s", pid, err, out)
	}
	return nil
}

// KillTree forcefully terminates the process and every child it spawned
func KillTree(ctx context.Context, pid int) error {
	out, err := exec.CommandContext(ctx, "taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill /T /F failed for %d: %w: %s", pid, err, out)
	}
	return nil
}

// KillGroup is a no-op on Windows: taskkill cannot walk the tree of an exited
// parent, and children of a job-less process are not tracked.
func KillGroup(pgid int) error {
	return nil
}
