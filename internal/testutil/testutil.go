// Package testutil provides helpers for tests that need real binaries,
// network ports or asynchronous conditions.
package testutil

import (
	"net"
	"os/exec"
	"testing"
	"time"
)

// RequireBinaries skips the test unless every name resolves on PATH
func RequireBinaries(t testing.TB, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not available on PATH", name)
		}
	}
}

// SkipIfShort skips long-running integration tests in -short mode
func SkipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// FreeAddress returns a loopback host:port that was free when probed
func FreeAddress(t testing.TB) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to probe for a free port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().String()
}

// WaitFor polls cond until it holds, failing the test after timeout
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
