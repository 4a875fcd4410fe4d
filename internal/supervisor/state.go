package supervisor

import (
	"time"

	"github.com/cboxdk/wp-runtime-manager/internal/ports"
)

// State is the lifecycle state of one app instance
type State string

const (
	StateAbsent              State = "Absent"
	StateInitializing        State = "Initializing"
	StateDatabaseStarting    State = "DatabaseStarting"
	StateDatabaseReady       State = "DatabaseReady"
	StateConfiguringApp      State = "ConfiguringApp"
	StateInterpreterStarting State = "InterpreterStarting"
	StateRunning             State = "Running"
	StateStopping            State = "Stopping"
)

// InstanceStatus is a read-only snapshot of one app
type InstanceStatus struct {
	AppID           string      `json:"app_id"`
	AppPath         string      `json:"app_path,omitempty"`
	State           State       `json:"state"`
	Ports           *ports.Pair `json:"ports,omitempty"`
	DatabaseVersion string      `json:"database_version,omitempty"`
	DatabasePID     int         `json:"database_pid,omitempty"`
	InterpreterPID  int         `json:"interpreter_pid,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
}

// BinaryCheck is the result of CheckBinaries
type BinaryCheck struct {
	Available bool              `json:"available"`
	Missing   []string          `json:"missing"`
	Resolved  map[string]string `json:"resolved,omitempty"`
}
