package supervisor

import (
	"context"
	"time"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/installer"
	"github.com/cboxdk/wp-runtime-manager/internal/mysql"
	"github.com/cboxdk/wp-runtime-manager/internal/platform"
	"github.com/cboxdk/wp-runtime-manager/internal/ports"
	"github.com/cboxdk/wp-runtime-manager/internal/storage"
	"github.com/cboxdk/wp-runtime-manager/internal/telemetry"
)

// BinaryLocator resolves executables
type BinaryLocator interface {
	Resolve(kind binaries.Kind) (binaries.Resolution, error)
	CheckAll(kinds ...binaries.Kind) (bool, []binaries.Kind)
}

// DatabaseAdmin issues administrative statements to a local server
type DatabaseAdmin interface {
	Ping(ctx context.Context, port int) error
	CreateDatabase(ctx context.Context, port int, name string) error
	Exec(ctx context.Context, port int, statement string) error
	Shutdown(ctx context.Context, port int) error
}

// VersionDetector finds out the database server version. Nil means unknown.
type VersionDetector interface {
	Detect(ctx context.Context, serverPath string) *mysql.Version
}

// AppRegistry persists the ports of each app across restarts of the host process
type AppRegistry interface {
	FindApp(ctx context.Context, id string) (*storage.App, error)
	UpdateAppPorts(ctx context.Context, id string, pair *ports.Pair) error
}

// MetricsRecorder receives lifecycle measurements
type MetricsRecorder interface {
	StartSucceeded(appID string, duration time.Duration)
	StartFailed(appID string, state State)
	Stopped(appID string, forced bool)
	InstancesRunning(n int)
	InstallFinished(platform string, success bool)
}

type noopRecorder struct{}

func (noopRecorder) StartSucceeded(string, time.Duration) {}
func (noopRecorder) StartFailed(string, State)            {}
func (noopRecorder) Stopped(string, bool)                 {}
func (noopRecorder) InstancesRunning(int)                 {}
func (noopRecorder) InstallFinished(string, bool)         {}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLauncher replaces the process launcher
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithAdmin replaces the database administration client
func WithAdmin(a DatabaseAdmin) Option {
	return func(s *Supervisor) { s.admin = a }
}

// WithDetector replaces the database version detector
func WithDetector(d VersionDetector) Option {
	return func(s *Supervisor) { s.detector = d }
}

// WithLocator replaces the binary locator
func WithLocator(l BinaryLocator) Option {
	return func(s *Supervisor) { s.locator = l }
}

// WithInstaller replaces the platform installer
func WithInstaller(i installer.Installer) Option {
	return func(s *Supervisor) { s.installer = i }
}

// WithPrompter answers the system-wide install prompt. Without it the
// prompt is declined.
func WithPrompter(p installer.Prompter) Option {
	return func(s *Supervisor) { s.prompter = p }
}

// WithAllocator replaces the port allocator
func WithAllocator(a *ports.Allocator) Option {
	return func(s *Supervisor) { s.allocator = a }
}

// WithRegistry persists allocated ports
func WithRegistry(r AppRegistry) Option {
	return func(s *Supervisor) { s.registry = r }
}

// WithEvents emits lifecycle events
func WithEvents(e *telemetry.EventEmitter) Option {
	return func(s *Supervisor) { s.events = e }
}

// WithMetrics records lifecycle metrics
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithTracer traces start and stop
func WithTracer(t *telemetry.TraceHelper) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// WithPlatform overrides the detected platform
func WithPlatform(info platform.Info) Option {
	return func(s *Supervisor) { s.platform = info }
}
