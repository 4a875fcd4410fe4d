// Package mysql holds everything the runtime manager knows about the database
// server: version detection, the version-dependent command-line profile and a
// small administrative client over the MySQL wire protocol.
package mysql

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var versionPattern = regexp.MustCompile(`Ver\s+(\d+)\.(\d+)\.(\d+)`)

// Version is a parsed server version
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// String returns major.minor.patch
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v >= major.minor
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// ParseVersion extracts the version from `mysqld --version` output.
// It returns nil when the output carries no recognisable version.
func ParseVersion(output string) *Version {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return nil
	}

	parts := make([]int, 3)
	for i := range parts {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return nil
		}
		parts[i] = n
	}

	return &Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}
}

// CommandFunc runs a command and returns its combined output
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func combinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Detector runs the server binary to find out its version
type Detector struct {
	timeout time.Duration
	run     CommandFunc
	logger  *zap.Logger
}

// NewDetector creates a detector. run may be nil to use os/exec.
func NewDetector(timeout time.Duration, run CommandFunc, logger *zap.Logger) *Detector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if run == nil {
		run = combinedOutput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{timeout: timeout, run: run, logger: logger.Named("mysql-version")}
}

// Detect returns the server version, or nil when it cannot be determined.
// Callers treat nil as the newest, strictest server.
func (d *Detector) Detect(ctx context.Context, serverPath string) *Version {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.run(ctx, serverPath, "--version")
	if err != nil {
		d.logger.Warn("Version probe failed, assuming newest server",
			zap.String("binary", serverPath),
			zap.Error(err))
	}

	v := ParseVersion(string(out))
	if v == nil {
		d.logger.Warn("Could not parse server version, assuming newest server",
			zap.String("binary", serverPath),
			zap.String("output", string(out)))
		return nil
	}

	d.logger.Debug("Detected server version",
		zap.String("binary", serverPath),
		zap.String("version", v.String()))
	return v
}
