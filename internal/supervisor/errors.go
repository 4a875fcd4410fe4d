package supervisor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
)

var (
	// ErrBinaryMissing is matched by BinaryMissingError
	ErrBinaryMissing = errors.New("required binaries missing")

	// ErrInitializationFailure is returned when the one-time data directory
	// initialization fails
	ErrInitializationFailure = errors.New("database initialization failed")

	// ErrStartupTimeout is returned when the database does not accept queries
	// within its readiness ceiling
	ErrStartupTimeout = errors.New("startup timed out")

	// ErrProcessExited is returned when a spawned process dies before it was
	// judged ready
	ErrProcessExited = errors.New("process exited during startup")

	// ErrDatabaseCreation is returned when the app database cannot be created
	// on an otherwise healthy server
	ErrDatabaseCreation = errors.New("database creation failed")

	// ErrAuthAdjustment is logged, never returned. The app may still work with
	// the default authentication plugin.
	ErrAuthAdjustment = errors.New("root authentication adjustment failed")

	// ErrShutdownTimeout is handled by forcing termination, never returned to callers
	ErrShutdownTimeout = errors.New("graceful shutdown timed out")

	// ErrNotRunning is returned by operations that need a running instance
	ErrNotRunning = errors.New("app is not running")
)

// BinaryMissingError lists the binaries that could not be resolved
type BinaryMissingError struct {
	Missing []binaries.Kind
}

func (e *BinaryMissingError) Error() string {
	names := make([]string, len(e.Missing))
	for i, kind := range e.Missing {
		names[i] = string(kind)
	}
	return fmt.Sprintf("%s: %s", ErrBinaryMissing, strings.Join(names, ", "))
}

// Is makes errors.Is(err, ErrBinaryMissing) hold
func (e *BinaryMissingError) Is(target error) bool {
	return target == ErrBinaryMissing
}

// StartError reports the state a failed start reached before it was rolled back
type StartError struct {
	AppID string
	State State
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start app %s in state %s: %v", e.AppID, e.State, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
