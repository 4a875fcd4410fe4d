package api

import (
	"time"

	"github.com/cboxdk/wp-runtime-manager/internal/ports"
	"github.com/cboxdk/wp-runtime-manager/internal/supervisor"
)

// API Response Types

// AppSummary combines the registry record of an app with its runtime status
type AppSummary struct {
	ID         string                    `json:"id"`
	Path       string                    `json:"path,omitempty"`
	Type       string                    `json:"type,omitempty"`
	Registered bool                      `json:"registered"`
	Status     supervisor.InstanceStatus `json:"status"`
}

// AppListResponse lists every known app
type AppListResponse struct {
	Apps    []AppSummary `json:"apps"`
	Count   int          `json:"count"`
	Running int          `json:"running"`
}

// StartResponse is returned by a successful start
type StartResponse struct {
	AppID string     `json:"app_id"`
	Ports ports.Pair `json:"ports"`
}

// OperationResponse represents the result of a state-changing operation
type OperationResponse struct {
	AppID   string `json:"app_id"`
	Running bool   `json:"running"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Running   int       `json:"running"`
	Binaries  bool      `json:"binaries_available"`
}

// API Request Types

// StartRequest starts an app. Path may be omitted for registered apps.
type StartRequest struct {
	Path string `json:"path,omitempty"`
	Type string `json:"type,omitempty"`
}

// CLIRequest runs the cli tool against an app
type CLIRequest struct {
	Args []string `json:"args"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}
