package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/mysql"
	"github.com/cboxdk/wp-runtime-manager/internal/ports"
	"github.com/cboxdk/wp-runtime-manager/internal/storage"
	"github.com/cboxdk/wp-runtime-manager/internal/supervisor"
)

// ErrorBuilder provides a fluent interface for building structured errors
type ErrorBuilder struct {
	code       string
	message    string
	statusCode int
	details    string
	helpURL    string
	context    map[string]interface{}
	timestamp  time.Time
}

// NewError creates a new error builder
func NewError(code, message string) *ErrorBuilder {
	return &ErrorBuilder{
		code:      code,
		message:   message,
		timestamp: time.Now(),
		context:   make(map[string]interface{}),
	}
}

// WithStatus sets the HTTP status code
func (e *ErrorBuilder) WithStatus(statusCode int) *ErrorBuilder {
	e.statusCode = statusCode
	return e
}

// WithDetails adds detailed error information
func (e *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	e.details = details
	return e
}

// WithHelpURL adds a help URL for error resolution
func (e *ErrorBuilder) WithHelpURL(url string) *ErrorBuilder {
	e.helpURL = url
	return e
}

// WithContext adds contextual information
func (e *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	e.context[key] = value
	return e
}

// Build creates the final BusinessError
func (e *ErrorBuilder) Build() *BusinessError {
	if e.statusCode == 0 {
		e.statusCode = http.StatusInternalServerError
	}

	return &BusinessError{
		Code:       e.code,
		Message:    e.message,
		Details:    e.details,
		StatusCode: e.statusCode,
		HelpURL:    e.helpURL,
		Context:    e.context,
		Timestamp:  e.timestamp,
	}
}

// BusinessError is an error with an API error code and HTTP status
type BusinessError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	HelpURL    string                 `json:"help_url,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

func (e BusinessError) Error() string {
	return e.Message
}

// Common error builders
var (
	ErrAuthenticationFailed = func(details string) *BusinessError {
		return NewError("auth_failed", "Authentication failed").
			WithStatus(http.StatusUnauthorized).
			WithDetails(details).
			WithHelpURL("/docs/api#authentication").
			Build()
	}

	ErrAppNotFound = func(appID string) *BusinessError {
		return NewError("app_not_found", "App not found").
			WithStatus(http.StatusNotFound).
			WithContext("app_id", appID).
			WithDetails(fmt.Sprintf("App '%s' is not registered and not running", appID)).
			WithHelpURL("/docs/apps#registration").
			Build()
	}

	ErrAppNotRunning = func(appID string) *BusinessError {
		return NewError("app_not_running", "App is not running").
			WithStatus(http.StatusConflict).
			WithContext("app_id", appID).
			WithDetails("Start the app before invoking the cli tool").
			WithHelpURL("/docs/apps#lifecycle").
			Build()
	}

	ErrInvalidJSON = func(parseError error) *BusinessError {
		return NewError("invalid_json", "Invalid JSON in request body").
			WithStatus(http.StatusBadRequest).
			WithDetails(parseError.Error()).
			WithHelpURL("/docs/api#request-format").
			Build()
	}

	ErrMissingParameter = func(paramName string) *BusinessError {
		return NewError("missing_parameter", "Required parameter missing").
			WithStatus(http.StatusBadRequest).
			WithContext("parameter", paramName).
			WithDetails(fmt.Sprintf("Parameter '%s' is required", paramName)).
			WithHelpURL("/docs/api#parameters").
			Build()
	}

	ErrInvalidParameter = func(paramName, reason string) *BusinessError {
		return NewError("invalid_parameter", "Invalid parameter value").
			WithStatus(http.StatusBadRequest).
			WithContext("parameter", paramName).
			WithDetails(reason).
			WithHelpURL("/docs/api#parameters").
			Build()
	}

	ErrServiceUnavailable = func(service string, reason error) *BusinessError {
		return NewError("service_unavailable", "Service temporarily unavailable").
			WithStatus(http.StatusServiceUnavailable).
			WithContext("service", service).
			WithDetails(reason.Error()).
			WithHelpURL("/docs/troubleshooting#service-health").
			Build()
	}

	ErrInternalError = func(operation string, err error) *BusinessError {
		return NewError("internal_error", "Internal server error").
			WithStatus(http.StatusInternalServerError).
			WithContext("operation", operation).
			WithDetails("An unexpected error occurred. Please try again or contact support.").
			WithHelpURL("/docs/troubleshooting#general").
			Build()
	}
)

// startFailure describes how a start error is reported
type startFailure struct {
	target  error
	code    string
	message string
	status  int
}

var startFailures = []startFailure{
	{supervisor.ErrBinaryMissing, "binaries_missing", "Required binaries are missing", http.StatusFailedDependency},
	{ports.ErrPortExhaustion, "port_exhaustion", "No free ports available", http.StatusServiceUnavailable},
	{mysql.ErrSuperuserRefused, "superuser_refused", "Refusing to run the database server as superuser", http.StatusConflict},
	{supervisor.ErrStartupTimeout, "startup_timeout", "Database did not become ready in time", http.StatusGatewayTimeout},
	{supervisor.ErrInitializationFailure, "initialization_failed", "Database initialization failed", http.StatusInternalServerError},
	{supervisor.ErrDatabaseCreation, "database_creation_failed", "App database could not be created", http.StatusInternalServerError},
	{supervisor.ErrProcessExited, "process_exited", "A runtime process exited during startup", http.StatusInternalServerError},
}

// ErrAppStartFailed maps a failed start to its error code
func ErrAppStartFailed(appID string, err error) *BusinessError {
	builder := NewError("app_start_failed", "Failed to start app").
		WithStatus(http.StatusInternalServerError)

	for _, f := range startFailures {
		if errors.Is(err, f.target) {
			builder = NewError(f.code, f.message).WithStatus(f.status)
			break
		}
	}

	var startErr *supervisor.StartError
	if errors.As(err, &startErr) {
		builder.WithContext("state", startErr.State)
	}

	var missing *supervisor.BinaryMissingError
	if errors.As(err, &missing) {
		builder.WithContext("missing", missing.Missing)
	}

	return builder.
		WithContext("app_id", appID).
		WithDetails(err.Error()).
		WithHelpURL("/docs/troubleshooting#app-startup").
		Build()
}

// mapError converts domain errors returned by collaborators into business errors
func mapError(appID string, err error) error {
	var be *BusinessError
	switch {
	case errors.As(err, &be):
		return be
	case errors.Is(err, storage.ErrAppNotFound):
		return ErrAppNotFound(appID)
	case errors.Is(err, supervisor.ErrNotRunning):
		return ErrAppNotRunning(appID)
	default:
		return err
	}
}

// ValidationError represents field-level validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return fmt.Sprintf("Validation failed with %d errors", len(v.Errors))
}

// NewValidationErrors creates a new validation errors collection
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]ValidationError, 0),
	}
}

// AddError adds a validation error
func (v *ValidationErrors) AddError(field, message, value string) {
	v.Errors = append(v.Errors, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// ToBusinessError converts validation errors to a business error
func (v *ValidationErrors) ToBusinessError() *BusinessError {
	return NewError("validation_failed", "Request validation failed").
		WithStatus(http.StatusBadRequest).
		WithContext("validation_errors", v.Errors).
		WithHelpURL("/docs/api#validation").
		Build()
}

// RecoveryMiddleware turns handler panics into 500 responses
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic in HTTP handler",
						zap.Any("panic", err),
						zap.String("path", r.URL.Path))

					response := StandardResponse{
						Success:   false,
						Message:   "Internal server error",
						RequestID: r.Header.Get("X-Request-ID"),
						Timestamp: time.Now(),
						Error: &ErrorInfo{
							Code:    "panic_recovered",
							Details: "An unexpected error occurred",
							HelpURL: helpURL("/docs/troubleshooting#panic-recovery"),
						},
					}

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(response)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// UserFriendlyErrorMessages provides user-friendly error messages
var UserFriendlyErrorMessages = map[string]string{
	"app_not_found":     "The requested app is not registered. Start it with a path to register it.",
	"app_not_running":   "This app is not running. Start it before running cli commands.",
	"binaries_missing":  "The interpreter or database server is missing. Run the dependency installer.",
	"superuser_refused": "Database server 9.x cannot run as root. Run the runtime manager as a regular user.",
	"auth_failed":       "Authentication failed. Please check your API key.",
	"rate_limited":      "You've exceeded the API rate limit. Please wait before making more requests.",
}

// GetUserFriendlyMessage returns a user-friendly message for an error code
func GetUserFriendlyMessage(errorCode string) string {
	if msg, exists := UserFriendlyErrorMessages[errorCode]; exists {
		return msg
	}
	return "An error occurred. Please check the documentation or contact support for assistance."
}
