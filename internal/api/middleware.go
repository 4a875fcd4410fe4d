package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/config"
)

const docsBaseURL = "https://docs.wp-runtime-manager.dev"

// RequestHandler handles a decoded request. req is nil unless the route
// declares a request body.
type RequestHandler func(r *http.Request, req interface{}) (interface{}, error)

// HandlerConfig contains configuration for request handling
type HandlerConfig struct {
	// NewRequest returns a pointer to decode the body into. Nil skips decoding.
	NewRequest   func() interface{}
	RequireBody  bool
	LogOperation string
}

// StandardResponse represents a standard API response structure
type StandardResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Duration  string      `json:"duration"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo provides structured error information
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Details string                 `json:"details,omitempty"`
	HelpURL string                 `json:"help_url,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ValidationMiddleware decodes the request body and formats the handler result
func (s *Server) ValidationMiddleware(cfg HandlerConfig, handler RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := s.generateRequestID()
		start := time.Now()

		var reqData interface{}
		if cfg.NewRequest != nil {
			reqData = cfg.NewRequest()
			if err := s.parseJSON(r, reqData); err != nil {
				if !errors.Is(err, io.EOF) || cfg.RequireBody {
					s.handleBusinessError(w, ErrInvalidJSON(err), requestID, start)
					return
				}
			}
		}

		result, err := handler(r, reqData)
		if err != nil {
			s.handleBusinessError(w, err, requestID, start)
			return
		}

		s.writeStandardResponse(w, http.StatusOK, "Operation completed successfully", requestID, start, result)

		if cfg.LogOperation != "" {
			s.logger.Info("API operation completed",
				zap.String("operation", cfg.LogOperation),
				zap.String("request_id", requestID),
				zap.Duration("duration", time.Since(start)))
		}
	}
}

// parseJSON decodes a size-limited JSON body and rejects unknown fields
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, config.MaxRequestBodySize))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// writeStandardResponse writes a standardized success response
func (s *Server) writeStandardResponse(w http.ResponseWriter, statusCode int, message, requestID string, start time.Time, data interface{}) {
	response := StandardResponse{
		Success:   true,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now(),
		Duration:  time.Since(start).String(),
		Data:      data,
	}
	s.writeJSON(w, statusCode, response)
}

// writeStandardError writes a standardized error response
func (s *Server) writeStandardError(w http.ResponseWriter, statusCode int, be *BusinessError, requestID string, start time.Time) {
	response := StandardResponse{
		Success:   false,
		Message:   be.Message,
		RequestID: requestID,
		Timestamp: time.Now(),
		Duration:  time.Since(start).String(),
		Error: &ErrorInfo{
			Code:    be.Code,
			Details: be.Details,
			HelpURL: helpURL(be.HelpURL),
			Context: be.Context,
		},
	}
	s.writeJSON(w, statusCode, response)
}

// handleBusinessError handles business logic errors with appropriate responses
func (s *Server) handleBusinessError(w http.ResponseWriter, err error, requestID string, start time.Time) {
	var be *BusinessError
	if !errors.As(err, &be) {
		s.logger.Error("Unhandled API error",
			zap.Error(err),
			zap.String("request_id", requestID))
		be = ErrInternalError("request", err)
	}

	fields := []zap.Field{
		zap.String("error_code", be.Code),
		zap.String("details", be.Details),
		zap.String("request_id", requestID),
	}
	if be.StatusCode >= http.StatusInternalServerError {
		s.logger.Error("Business operation failed", fields...)
	} else {
		s.logger.Debug("Request rejected", fields...)
	}

	s.writeStandardError(w, be.StatusCode, be, requestID, start)
}

// helpURL expands a documentation path into an absolute link
func helpURL(path string) string {
	if path == "" {
		path = "/docs/troubleshooting"
	}
	return docsBaseURL + path
}

// AccessLogMiddleware logs every API request with its status and duration
func (s *Server) AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Debug("API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status_code", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
