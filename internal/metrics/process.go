// Package metrics samples resource usage of the interpreter and database
// processes the supervisor runs and exposes it as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrProcessGone is returned when the sampled process no longer exists
var ErrProcessGone = errors.New("process not found")

// Usage is a point-in-time reading of one process
type Usage struct {
	PID           int
	ResidentBytes uint64
	CPUSeconds    float64
}

// ReadFunc samples one process
type ReadFunc func(pid int) (Usage, error)

// ReadProcess samples the resident memory and cumulative user plus system
// CPU time of pid
func ReadProcess(pid int) (Usage, error) {
	if pid <= 0 {
		return Usage{}, fmt.Errorf("invalid pid %d", pid)
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, processError(pid, err)
	}

	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, processError(pid, err)
	}
	times, err := p.Times()
	if err != nil {
		return Usage{}, processError(pid, err)
	}

	return Usage{
		PID:           pid,
		ResidentBytes: mem.RSS,
		CPUSeconds:    times.User + times.System,
	}, nil
}

// processError maps a vanished process to ErrProcessGone
func processError(pid int, err error) error {
	if errors.Is(err, process.ErrorProcessNotRunning) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %d", ErrProcessGone, pid)
	}
	return fmt.Errorf("failed to sample process %d: %w", pid, err)
}
