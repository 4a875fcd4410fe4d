package prometheus

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cboxdk/wp-runtime-manager/internal/config"
)

// authMiddleware provides API key authentication for protected endpoints
func (e *Exporter) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.config.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if ok, authError := e.validateAPIKey(r); !ok {
			e.logger.Warn("Authentication failed",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.String("error", authError))

			w.Header().Set("WWW-Authenticate", `Bearer realm="wp-runtime-manager"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateAPIKey accepts the key as a bearer token or in X-API-Key
func (e *Exporter) validateAPIKey(r *http.Request) (bool, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return e.checkAPIKey(parts[1])
		}
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return e.checkAPIKey(apiKey)
	}

	return false, "API key not provided"
}

func (e *Exporter) checkAPIKey(providedKey string) (bool, string) {
	if e.config.Auth.APIKey == "" {
		return false, "no API key configured"
	}
	if subtle.ConstantTimeCompare([]byte(providedKey), []byte(e.config.Auth.APIKey)) == 1 {
		return true, ""
	}
	return false, "invalid API key"
}

// rateLimitMiddleware provides rate limiting for the metrics endpoint
func (e *Exporter) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.rateLimiter.Allow() {
			e.logger.Warn("Rate limit exceeded",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))

			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// apiRateLimitMiddleware provides rate limiting for API endpoints
func (e *Exporter) apiRateLimitMiddleware(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			e.logger.Warn("API rate limit exceeded",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.String("path", r.URL.Path))

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"message":"API rate limit exceeded","error":{"code":"rate_limited"},"timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIHandler is the REST API mounted under the API base path
type APIHandler interface {
	Handler() http.Handler
}

// Exporter serves runtime metrics, health and the REST API on one listener.
// It also records supervisor lifecycle metrics.
type Exporter struct {
	config config.ServerConfig
	logger *zap.Logger

	server    *http.Server
	apiServer APIHandler

	registry *prometheus.Registry
	metrics  *runtimeMetrics

	rateLimiter *rate.Limiter

	mu      sync.RWMutex
	running bool
}

// NewExporter creates a new Prometheus exporter
func NewExporter(cfg config.ServerConfig, logger *zap.Logger) (*Exporter, error) {
	registry := prometheus.NewRegistry()

	metrics, err := newRuntimeMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return &Exporter{
		config:      cfg,
		logger:      logger.Named("exporter"),
		registry:    registry,
		metrics:     metrics,
		rateLimiter: rate.NewLimiter(100, 200),
	}, nil
}

// Registry exposes the metrics registry
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// RegisterCollector adds c to the exported registry
func (e *Exporter) RegisterCollector(c prometheus.Collector) error {
	if err := e.registry.Register(c); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}
	return nil
}

// SetAPIServer mounts the REST API. It must be called before Start.
func (e *Exporter) SetAPIServer(apiServer APIHandler) {
	e.apiServer = apiServer
}

// Handler builds the HTTP routes
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()

	metricsHandler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(e.logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
	mux.Handle(e.config.MetricsPath, e.rateLimitMiddleware(e.authMiddleware(metricsHandler)))

	mux.HandleFunc("/", e.rootHandler)
	mux.HandleFunc(e.config.HealthPath, e.healthHandler)

	if e.config.API.Enabled && e.apiServer != nil {
		e.logger.Info("Enabling REST API endpoints", zap.String("base_path", e.config.API.BasePath))

		apiRateLimiter := rate.NewLimiter(rate.Limit(e.config.API.MaxRequests), e.config.API.MaxRequests*2)
		apiHandler := e.apiRateLimitMiddleware(apiRateLimiter, e.authMiddleware(e.apiServer.Handler()))
		mux.Handle(e.config.API.BasePath+"/", http.StripPrefix(e.config.API.BasePath, apiHandler))
	}

	return mux
}

// Start serves until ctx is cancelled
func (e *Exporter) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("exporter is already running")
	}
	e.running = true
	e.mu.Unlock()

	listener, err := net.Listen("tcp", e.config.BindAddress)
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", e.config.BindAddress, err)
	}

	e.logger.Info("Starting HTTP server",
		zap.String("bind_address", listener.Addr().String()),
		zap.String("metrics_path", e.config.MetricsPath))

	server := &http.Server{
		Handler:      e.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	e.mu.Lock()
	e.server = server
	e.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("HTTP server failed", zap.Error(err))
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("Server shutdown failed", zap.Error(err))
		return err
	}

	e.logger.Info("HTTP server stopped")
	return nil
}

// Stop halts the server
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	server := e.server
	e.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

func (e *Exporter) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<html>
<head><title>WordPress Runtime Manager</title></head>
<body>
<h1>WordPress Runtime Manager</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="%s">Health</a></p>
</body>
</html>`, e.config.MetricsPath, e.config.HealthPath)
}

func (e *Exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
