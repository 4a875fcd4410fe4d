package config

import "time"

// Application constants for runtime defaults. None of these are contractual; every
// value can be overridden in the configuration file.
const (
	// Ports
	DefaultInterpreterPort = 8080
	DefaultDatabasePort    = 3306
	DefaultPortScanWindow  = 1000 // Candidates drawn from preferred+1 .. preferred+window
	DefaultPortAttempts    = 60   // Random candidates tried before PortExhaustion
	DefaultPortPairRetries = 3    // Re-allocations when the pre-spawn probe fails

	// Timeouts and Delays
	DefaultDatabaseReadyTimeout    = 30 * time.Second
	DefaultReadinessPollInterval   = 1 * time.Second
	DefaultInterpreterGrace        = 1 * time.Second
	DefaultInterpreterStopTimeout  = 5 * time.Second
	DefaultDatabaseShutdownTimeout = 10 * time.Second
	DefaultDatabaseInitTimeout     = 2 * time.Minute
	DefaultVersionProbeTimeout     = 10 * time.Second
	DefaultAdminQueryTimeout       = 5 * time.Second
	DefaultShutdownTimeout         = 5 * time.Second // Telemetry provider shutdown timeout

	// App layout
	DefaultDatabaseName    = "wordpress"
	DefaultContentRootName = "wordpress"

	// Downloads
	DefaultCLIToolURL         = "https://raw.githubusercontent.com/wp-cli/builds/gh-pages/phar/wp-cli.phar"
	DefaultHomebrewInstallURL = "https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh"

	// Channel Buffer Sizes
	DefaultEventChannelBuffer = 100

	// Telemetry
	DefaultServiceName  = "wp-runtime-manager"
	DefaultSamplingRate = 0.1

	// API
	APIVersion         = "v1"
	DefaultRateLimit   = 100     // Requests per second for the API
	MaxRequestBodySize = 1 << 20 // 1MB maximum request body size
	DefaultEventLimit  = 100
	MaxEventQueryLimit = 1000
)

// Environment-specific constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Binary lookup modes for the PATH tier
const (
	SystemLookupAuto  = "auto"
	SystemLookupNever = "never"
)

// Telemetry exporter types
const (
	ExporterTypeStdout = "stdout"
	ExporterTypeOTLP   = "otlp"
)
