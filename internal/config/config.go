package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cboxdk/wp-runtime-manager/internal/security"
)

// Config represents the application configuration
type Config struct {
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Ports     PortsConfig     `yaml:"ports"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Installer InstallerConfig `yaml:"installer"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RuntimeConfig controls where binaries are looked up and how apps are laid out
type RuntimeConfig struct {
	ResourcesDir    string `yaml:"resources_dir"`     // Directory holding wordpress-runtime/<platform>-<arch>/
	UserDataDir     string `yaml:"user_data_dir"`     // Per-user directory for portable installs
	Development     bool   `yaml:"development"`       // Enables the system PATH lookup tier
	AutoInstall     bool   `yaml:"auto_install"`      // Attempt dependency installation when binaries are missing at start
	DatabaseName    string `yaml:"database_name"`     // Database created for each app
	ContentRootName string `yaml:"content_root_name"` // Directory under the app path served by the interpreter

	// SystemLookup controls the PATH tier outside development mode. "auto"
	// enables it so package-manager installs are found; "never" limits it to
	// development mode.
	SystemLookup string   `yaml:"system_lookup"`
	SearchDirs   []string `yaml:"search_dirs,omitempty"` // Extra directories searched within the PATH tier
}

// SystemLookupEnabled reports whether the PATH tier applies
func (r RuntimeConfig) SystemLookupEnabled() bool {
	if r.SystemLookup == SystemLookupNever {
		return r.Development
	}
	return true
}

// PortsConfig controls port allocation
type PortsConfig struct {
	InterpreterDefault int `yaml:"interpreter_default"`
	DatabaseDefault    int `yaml:"database_default"`
	ScanWindow         int `yaml:"scan_window"`  // Candidates are drawn from preferred+1 .. preferred+window
	MaxAttempts        int `yaml:"max_attempts"` // Random candidates tried before giving up
	PairRetries        int `yaml:"pair_retries"` // Re-allocations when the live probe before spawn fails
}

// TimeoutsConfig contains the ceilings for every bounded wait
type TimeoutsConfig struct {
	DatabaseReady      time.Duration `yaml:"database_ready"`
	ReadinessPoll      time.Duration `yaml:"readiness_poll"`
	InterpreterGrace   time.Duration `yaml:"interpreter_grace"`
	InterpreterStop    time.Duration `yaml:"interpreter_stop"`
	DatabaseShutdown   time.Duration `yaml:"database_shutdown"`
	DatabaseInitialize time.Duration `yaml:"database_initialize"`
	VersionProbe       time.Duration `yaml:"version_probe"`
	DatabaseAdminQuery time.Duration `yaml:"database_admin_query"`
}

// InstallerConfig contains download locations and package manager commands
type InstallerConfig struct {
	PortableArchives   map[string]string `yaml:"portable_archives,omitempty"` // binary kind -> zip URL (Windows)
	CLIToolURL         string            `yaml:"cli_tool_url"`
	HomebrewInstallURL string            `yaml:"homebrew_install_url"`
	WindowsPackages    map[string]string `yaml:"windows_packages,omitempty"` // binary kind -> winget package id
	HomebrewFormulae   map[string]string `yaml:"homebrew_formulae,omitempty"`
	DownloadTimeout    time.Duration     `yaml:"download_timeout"`
	CommandTimeout     time.Duration     `yaml:"command_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Enabled     bool       `yaml:"enabled"`
	BindAddress string     `yaml:"bind_address"`
	MetricsPath string     `yaml:"metrics_path"`
	HealthPath  string     `yaml:"health_path"`
	Auth        AuthConfig `yaml:"auth"`
	API         APIConfig  `yaml:"api"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BasePath    string `yaml:"base_path"`
	MaxRequests int    `yaml:"max_requests"`
}

// StorageConfig contains the app registry database settings
type StorageConfig struct {
	DatabasePath   string        `yaml:"database_path"`
	EventRetention time.Duration `yaml:"event_retention"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled        bool                    `yaml:"enabled"`
	ServiceName    string                  `yaml:"service_name"`
	ServiceVersion string                  `yaml:"service_version"`
	Environment    string                  `yaml:"environment"`
	Exporter       TelemetryExporterConfig `yaml:"exporter"`
	Sampling       TelemetrySamplingConfig `yaml:"sampling"`
}

// TelemetryExporterConfig configures telemetry exporters
type TelemetryExporterConfig struct {
	Type     string            `yaml:"type"` // "stdout", "otlp"
	Endpoint string            `yaml:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// TelemetrySamplingConfig configures trace sampling
type TelemetrySamplingConfig struct {
	Rate float64 `yaml:"rate"` // 0.0 to 1.0
}

// LoadDefault creates a zero-configuration setup with all defaults
func LoadDefault() (*Config, error) {
	var config Config

	applyDefaults(&config)

	if err := ensureConfigDirectories(&config); err != nil {
		return nil, fmt.Errorf("directory creation failed: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid default configuration: %w", err)
	}

	return &config, nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	if err := ensureConfigDirectories(&config); err != nil {
		return nil, fmt.Errorf("directory creation failed: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with every default applied, without touching the filesystem
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Runtime defaults
	if cfg.Runtime.UserDataDir == "" {
		cfg.Runtime.UserDataDir = defaultUserDataDir()
	}
	if cfg.Runtime.ResourcesDir == "" {
		cfg.Runtime.ResourcesDir = defaultResourcesDir()
	}
	if cfg.Runtime.DatabaseName == "" {
		cfg.Runtime.DatabaseName = DefaultDatabaseName
	}
	if cfg.Runtime.ContentRootName == "" {
		cfg.Runtime.ContentRootName = DefaultContentRootName
	}
	if cfg.Runtime.SystemLookup == "" {
		cfg.Runtime.SystemLookup = SystemLookupAuto
	}
	if len(cfg.Runtime.SearchDirs) == 0 && runtime.GOOS == "darwin" {
		cfg.Runtime.SearchDirs = []string{"/opt/homebrew/bin", "/opt/homebrew/sbin", "/usr/local/bin", "/usr/local/sbin"}
	}

	// Port defaults
	if cfg.Ports.InterpreterDefault == 0 {
		cfg.Ports.InterpreterDefault = DefaultInterpreterPort
	}
	if cfg.Ports.DatabaseDefault == 0 {
		cfg.Ports.DatabaseDefault = DefaultDatabasePort
	}
	if cfg.Ports.ScanWindow == 0 {
		cfg.Ports.ScanWindow = DefaultPortScanWindow
	}
	if cfg.Ports.MaxAttempts == 0 {
		cfg.Ports.MaxAttempts = DefaultPortAttempts
	}
	if cfg.Ports.PairRetries == 0 {
		cfg.Ports.PairRetries = DefaultPortPairRetries
	}

	// Timeout defaults
	if cfg.Timeouts.DatabaseReady == 0 {
		cfg.Timeouts.DatabaseReady = DefaultDatabaseReadyTimeout
	}
	if cfg.Timeouts.ReadinessPoll == 0 {
		cfg.Timeouts.ReadinessPoll = DefaultReadinessPollInterval
	}
	if cfg.Timeouts.InterpreterGrace == 0 {
		cfg.Timeouts.InterpreterGrace = DefaultInterpreterGrace
	}
	if cfg.Timeouts.InterpreterStop == 0 {
		cfg.Timeouts.InterpreterStop = DefaultInterpreterStopTimeout
	}
	if cfg.Timeouts.DatabaseShutdown == 0 {
		cfg.Timeouts.DatabaseShutdown = DefaultDatabaseShutdownTimeout
	}
	if cfg.Timeouts.DatabaseInitialize == 0 {
		cfg.Timeouts.DatabaseInitialize = DefaultDatabaseInitTimeout
	}
	if cfg.Timeouts.VersionProbe == 0 {
		cfg.Timeouts.VersionProbe = DefaultVersionProbeTimeout
	}
	if cfg.Timeouts.DatabaseAdminQuery == 0 {
		cfg.Timeouts.DatabaseAdminQuery = DefaultAdminQueryTimeout
	}

	// Installer defaults
	if cfg.Installer.CLIToolURL == "" {
		cfg.Installer.CLIToolURL = DefaultCLIToolURL
	}
	if cfg.Installer.HomebrewInstallURL == "" {
		cfg.Installer.HomebrewInstallURL = DefaultHomebrewInstallURL
	}
	if cfg.Installer.DownloadTimeout == 0 {
		cfg.Installer.DownloadTimeout = 10 * time.Minute
	}
	if cfg.Installer.CommandTimeout == 0 {
		cfg.Installer.CommandTimeout = 30 * time.Minute
	}
	if len(cfg.Installer.WindowsPackages) == 0 {
		cfg.Installer.WindowsPackages = map[string]string{
			"interpreter":     "PHP.PHP.8.3",
			"database-server": "Oracle.MySQL",
			"cli-tool":        "WordPress.WP-CLI",
		}
	}
	if len(cfg.Installer.HomebrewFormulae) == 0 {
		cfg.Installer.HomebrewFormulae = map[string]string{
			"interpreter":     "php",
			"database-server": "mysql",
			"cli-tool":        "wp-cli",
		}
	}

	// Server defaults
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = "127.0.0.1:9190"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.HealthPath == "" {
		cfg.Server.HealthPath = "/health"
	}
	if cfg.Server.API.BasePath == "" {
		cfg.Server.API.BasePath = "/api/v1"
	}
	if cfg.Server.API.MaxRequests == 0 {
		cfg.Server.API.MaxRequests = DefaultRateLimit
	}

	// Storage defaults
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Runtime.UserDataDir, "wordpress-runtime", "registry.db")
	}
	if cfg.Storage.EventRetention == 0 {
		cfg.Storage.EventRetention = 30 * 24 * time.Hour
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 4
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "1.0.0"
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = EnvDevelopment
	}
	if cfg.Telemetry.Exporter.Type == "" {
		cfg.Telemetry.Exporter.Type = ExporterTypeStdout
	}
	if cfg.Telemetry.Sampling.Rate == 0 {
		cfg.Telemetry.Sampling.Rate = DefaultSamplingRate
	}
}

// defaultUserDataDir mirrors the per-user application-data directory of the desktop host
func defaultUserDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config")
	}
	return os.TempDir()
}

// defaultResourcesDir is the directory next to the executable, where bundled binaries ship
func defaultResourcesDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "resources"
	}
	return filepath.Join(filepath.Dir(exe), "resources")
}

// ValidationError represents a structured validation error
type ValidationError struct {
	Field      string      // Configuration field path (e.g., "ports.scan_window")
	Value      interface{} // Invalid value
	Message    string      // Human-readable error message
	Suggestion string      // Suggested fix
}

// ValidationResult contains the results of configuration validation
type ValidationResult struct {
	Valid    bool              // Overall validation status
	Errors   []ValidationError // List of validation errors
	Warnings []ValidationError // List of validation warnings
}

// Error implements the error interface for ValidationResult
func (vr *ValidationResult) Error() string {
	if len(vr.Errors) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(vr.Errors)))

	for i, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s", i+1, err.Field, err.Message))
		if err.Suggestion != "" {
			sb.WriteString(fmt.Sprintf(" (suggestion: %s)", err.Suggestion))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// validate checks the configuration for required fields and consistency
func validate(cfg *Config) error {
	result := validateConfiguration(cfg)
	if !result.Valid {
		return result
	}
	return nil
}

// GetValidationResult returns the detailed validation result for a configuration
func GetValidationResult(cfg *Config) *ValidationResult {
	return validateConfiguration(cfg)
}

// validateConfiguration performs comprehensive validation and returns detailed results
func validateConfiguration(cfg *Config) *ValidationResult {
	result := &ValidationResult{Valid: true}

	validateRuntimeConfig(&cfg.Runtime, result)
	validatePortsConfig(&cfg.Ports, result)
	validateTimeoutsConfig(&cfg.Timeouts, result)
	validateInstallerConfig(&cfg.Installer, result)
	validateServerConfig(&cfg.Server, result)
	validateStorageConfig(&cfg.Storage, result)
	validateLoggingConfig(&cfg.Logging, result)
	validateTelemetryConfig(&cfg.Telemetry, result)

	result.Valid = len(result.Errors) == 0

	return result
}

func validateRuntimeConfig(cfg *RuntimeConfig, result *ValidationResult) {
	if cfg.DatabaseName == "" || !isIdentifier(cfg.DatabaseName) {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "runtime.database_name",
			Value:      cfg.DatabaseName,
			Message:    "database name must contain only letters, digits and underscores",
			Suggestion: "use 'wordpress'",
		})
	}

	if cfg.ContentRootName == "" || strings.ContainsAny(cfg.ContentRootName, `/\`) || cfg.ContentRootName == ".." {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "runtime.content_root_name",
			Value:      cfg.ContentRootName,
			Message:    "content root must be a single directory name",
			Suggestion: "use 'wordpress'",
		})
	}

	switch cfg.SystemLookup {
	case SystemLookupAuto, SystemLookupNever:
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:      "runtime.system_lookup",
			Value:      cfg.SystemLookup,
			Message:    "invalid system lookup mode",
			Suggestion: "use 'auto' or 'never'",
		})
	}

	if !filepath.IsAbs(cfg.UserDataDir) {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:      "runtime.user_data_dir",
			Value:      cfg.UserDataDir,
			Message:    "user data directory is relative and depends on the working directory",
			Suggestion: "use an absolute path",
		})
	}
}

func validatePortsConfig(cfg *PortsConfig, result *ValidationResult) {
	for field, port := range map[string]int{
		"ports.interpreter_default": cfg.InterpreterDefault,
		"ports.database_default":    cfg.DatabaseDefault,
	} {
		if port < 1 || port > 65535 {
			result.Errors = append(result.Errors, ValidationError{
				Field:      field,
				Value:      port,
				Message:    "port must be between 1 and 65535",
				Suggestion: "use 8080 for the interpreter and 3306 for the database",
			})
		}
	}

	if cfg.InterpreterDefault == cfg.DatabaseDefault {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "ports.database_default",
			Value:      cfg.DatabaseDefault,
			Message:    "database and interpreter default ports must differ",
			Suggestion: "use distinct defaults such as 8080 and 3306",
		})
	}

	if err := validatePositiveInt(cfg.ScanWindow, "ports.scan_window"); err != nil {
		result.Errors = append(result.Errors, *err)
	}
	if err := validatePositiveInt(cfg.MaxAttempts, "ports.max_attempts"); err != nil {
		result.Errors = append(result.Errors, *err)
	}
	if err := validatePositiveInt(cfg.PairRetries, "ports.pair_retries"); err != nil {
		result.Errors = append(result.Errors, *err)
	}

	if cfg.InterpreterDefault+cfg.ScanWindow > 65535 || cfg.DatabaseDefault+cfg.ScanWindow > 65535 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:      "ports.scan_window",
			Value:      cfg.ScanWindow,
			Message:    "scan window extends past 65535 and will be clamped",
			Suggestion: "reduce the scan window or the default ports",
		})
	}
}

func validateTimeoutsConfig(cfg *TimeoutsConfig, result *ValidationResult) {
	checks := []struct {
		d     time.Duration
		min   time.Duration
		max   time.Duration
		field string
	}{
		{cfg.DatabaseReady, time.Second, 10 * time.Minute, "timeouts.database_ready"},
		{cfg.ReadinessPoll, 10 * time.Millisecond, time.Minute, "timeouts.readiness_poll"},
		{cfg.InterpreterGrace, 0, time.Minute, "timeouts.interpreter_grace"},
		{cfg.InterpreterStop, 100 * time.Millisecond, 5 * time.Minute, "timeouts.interpreter_stop"},
		{cfg.DatabaseShutdown, 100 * time.Millisecond, 5 * time.Minute, "timeouts.database_shutdown"},
		{cfg.DatabaseInitialize, time.Second, 30 * time.Minute, "timeouts.database_initialize"},
		{cfg.VersionProbe, 100 * time.Millisecond, time.Minute, "timeouts.version_probe"},
		{cfg.DatabaseAdminQuery, 100 * time.Millisecond, time.Minute, "timeouts.database_admin_query"},
	}

	for _, c := range checks {
		if err := validateDuration(c.d, c.min, c.max, c.field); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}

	if cfg.ReadinessPoll > cfg.DatabaseReady {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "timeouts.readiness_poll",
			Value:      cfg.ReadinessPoll.String(),
			Message:    "readiness poll interval exceeds the database ready ceiling",
			Suggestion: "use '1s' polling with a '30s' ceiling",
		})
	}
}

func validateInstallerConfig(cfg *InstallerConfig, result *ValidationResult) {
	if err := validateURL(cfg.CLIToolURL, "installer.cli_tool_url"); err != nil {
		result.Errors = append(result.Errors, *err)
	}
	if err := validateURL(cfg.HomebrewInstallURL, "installer.homebrew_install_url"); err != nil {
		result.Errors = append(result.Errors, *err)
	}
	for kind, archive := range cfg.PortableArchives {
		if err := validateURL(archive, "installer.portable_archives."+kind); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}
}

func validateServerConfig(cfg *ServerConfig, result *ValidationResult) {
	if !cfg.Enabled {
		return
	}

	if err := validateNetworkAddress(cfg.BindAddress); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "server.bind_address",
			Value:      cfg.BindAddress,
			Message:    fmt.Sprintf("invalid bind address: %v", err),
			Suggestion: "use format 'host:port' e.g., '127.0.0.1:9190'",
		})
	}

	for field, path := range map[string]string{
		"server.metrics_path":  cfg.MetricsPath,
		"server.health_path":   cfg.HealthPath,
		"server.api.base_path": cfg.API.BasePath,
	} {
		if !strings.HasPrefix(path, "/") {
			result.Errors = append(result.Errors, ValidationError{
				Field:      field,
				Value:      path,
				Message:    "path must start with '/'",
				Suggestion: "prefix the path with '/'",
			})
		}
	}

	if cfg.Auth.Enabled {
		if err := security.ValidateAPIKey(cfg.Auth.APIKey); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:      "server.auth.api_key",
				Value:      "[redacted]",
				Message:    err.Error(),
				Suggestion: "set server.auth.api_key to at least 16 characters of [a-zA-Z0-9_.-] or disable authentication",
			})
		}
	}

	if cfg.API.Enabled {
		if err := validatePositiveInt(cfg.API.MaxRequests, "server.api.max_requests"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}
}

func validateStorageConfig(cfg *StorageConfig, result *ValidationResult) {
	if err := validateStringNotEmpty(cfg.DatabasePath, "storage.database_path"); err != nil {
		result.Errors = append(result.Errors, *err)
	}
	if err := validatePositiveInt(cfg.MaxOpenConns, "storage.max_open_conns"); err != nil {
		result.Errors = append(result.Errors, *err)
	}
	if err := validateDuration(cfg.EventRetention, time.Hour, 0, "storage.event_retention"); err != nil {
		result.Errors = append(result.Errors, *err)
	}
}

func validateLoggingConfig(cfg *LoggingConfig, result *ValidationResult) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}

	if !validLevels[strings.ToLower(cfg.Level)] {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "logging.level",
			Value:      cfg.Level,
			Message:    "invalid log level",
			Suggestion: "use 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{
		"json": true, "console": true,
	}

	if !validFormats[strings.ToLower(cfg.Format)] {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "logging.format",
			Value:      cfg.Format,
			Message:    "invalid log format",
			Suggestion: "use 'json' or 'console'",
		})
	}
}

func validateTelemetryConfig(cfg *TelemetryConfig, result *ValidationResult) {
	if !cfg.Enabled {
		return
	}

	switch cfg.Exporter.Type {
	case ExporterTypeStdout:
	case ExporterTypeOTLP:
		if cfg.Exporter.Endpoint == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:      "telemetry.exporter.endpoint",
				Value:      "",
				Message:    "OTLP exporter requires an endpoint",
				Suggestion: "use 'localhost:4318'",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:      "telemetry.exporter.type",
			Value:      cfg.Exporter.Type,
			Message:    "unsupported exporter type",
			Suggestion: "use 'stdout' or 'otlp'",
		})
	}

	if cfg.Sampling.Rate < 0 || cfg.Sampling.Rate > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "telemetry.sampling.rate",
			Value:      cfg.Sampling.Rate,
			Message:    "sampling rate must be between 0.0 and 1.0",
			Suggestion: "use 0.1 for 10% sampling",
		})
	}
}

// validateNetworkAddress validates a host:port address
func validateNetworkAddress(address string) error {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", portStr)
	}

	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return fmt.Errorf("invalid host %q", host)
	}

	return nil
}

// validateDuration validates a duration is within acceptable bounds
func validateDuration(d time.Duration, min, max time.Duration, fieldName string) *ValidationError {
	if d < min {
		return &ValidationError{
			Field:      fieldName,
			Value:      d.String(),
			Message:    fmt.Sprintf("duration %s is below minimum %s", d, min),
			Suggestion: fmt.Sprintf("use a value >= %s", min),
		}
	}

	if max > 0 && d > max {
		return &ValidationError{
			Field:      fieldName,
			Value:      d.String(),
			Message:    fmt.Sprintf("duration %s is above maximum %s", d, max),
			Suggestion: fmt.Sprintf("use a value <= %s", max),
		}
	}

	return nil
}

// validatePositiveInt validates a positive integer
func validatePositiveInt(value int, fieldName string) *ValidationError {
	if value <= 0 {
		return &ValidationError{
			Field:      fieldName,
			Value:      value,
			Message:    "value must be positive",
			Suggestion: "use a value > 0",
		}
	}
	return nil
}

// validateStringNotEmpty validates a string is not empty
func validateStringNotEmpty(value, fieldName string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:      fieldName,
			Value:      value,
			Message:    "value cannot be empty",
			Suggestion: "provide a non-empty value",
		}
	}
	return nil
}

// validateURL validates a URL format
func validateURL(urlStr, fieldName string) *ValidationError {
	if urlStr == "" {
		return &ValidationError{
			Field:      fieldName,
			Value:      urlStr,
			Message:    "URL cannot be empty",
			Suggestion: "provide a valid URL",
		}
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return &ValidationError{
			Field:      fieldName,
			Value:      urlStr,
			Message:    fmt.Sprintf("invalid URL format: %v", err),
			Suggestion: "use format like 'https://example.com/file.zip'",
		}
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{
			Field:      fieldName,
			Value:      urlStr,
			Message:    "URL must use http or https",
			Suggestion: "add 'https://' prefix",
		}
	}

	return nil
}

func isIdentifier(s string) bool {
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// ensureConfigDirectories creates all necessary directories for config-defined paths
func ensureConfigDirectories(cfg *Config) error {
	var paths []string

	if cfg.Storage.DatabasePath != "" && cfg.Storage.DatabasePath != ":memory:" {
		paths = append(paths, cfg.Storage.DatabasePath)
	}

	if cfg.Logging.OutputPath != "" &&
		cfg.Logging.OutputPath != "stdout" &&
		cfg.Logging.OutputPath != "stderr" {
		paths = append(paths, cfg.Logging.OutputPath)
	}

	for _, path := range paths {
		dir := filepath.Dir(path)
		if dir != "." && dir != "/" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("creating directory %s for path %s: %w", dir, path, err)
			}
		}
	}

	return nil
}
