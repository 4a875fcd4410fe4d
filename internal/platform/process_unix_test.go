//go:build !windows

package platform

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/cboxdk/wp-runtime-manager/internal/testutil"
)

func TestKillTreeTerminatesGroup(t *testing.T) {
	testutil.RequireBinaries(t, "sh", "sleep")

	cmd := exec.Command("sh", "-c", "sleep 30 & sleep 30")
	ConfigureProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := KillTree(context.Background(), cmd.Process.Pid); err != nil {
		t.Fatalf("KillTree failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Process group was not terminated")
	}

	// Killing an exited group is not an error
	if err := KillTree(context.Background(), cmd.Process.Pid); err != nil {
		t.Errorf("Expected no error for exited process, got %v", err)
	}
}

func TestKillGroupSparesReusedPid(t *testing.T) {
	testutil.RequireBinaries(t, "sleep")

	// A live group leader stands in for an unrelated process that took over
	// the pid of a reaped leader
	cmd := exec.Command("sleep", "30")
	ConfigureProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	defer func() {
		_ = KillTree(context.Background(), cmd.Process.Pid)
		<-done
	}()

	if err := KillGroup(cmd.Process.Pid); err != nil {
		t.Fatalf("KillGroup failed: %v", err)
	}

	select {
	case err := <-done:
		done <- err
		t.Fatal("KillGroup signalled a group that has a live owner")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestKillGroupOfVanishedGroup(t *testing.T) {
	testutil.RequireBinaries(t, "true")

	cmd := exec.Command("true")
	ConfigureProcessGroup(cmd)
	if err := cmd.Run(); err != nil {
		t.Fatalf("Failed to run process: %v", err)
	}

	if err := KillGroup(cmd.Process.Pid); err != nil {
		t.Errorf("Expected no error for an empty group, got %v", err)
	}
}
