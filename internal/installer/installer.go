// Package installer detects and acquires the interpreter, database server and
// cli tool when they are missing.
//
// Each platform has one Installer implementation selected by ForPlatform:
//
//   - Windows downloads portable archives into the per-user tree and offers a
//     system-wide winget install when something is still missing.
//   - macOS installs through Homebrew, bootstrapping it first if needed.
//   - Linux downloads the cli tool and returns distro-specific commands for
//     the interpreter and database server.
//
// A failure for one dependency never stops attempts for the others.
package installer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/config"
	"github.com/cboxdk/wp-runtime-manager/internal/platform"
)

// ErrInstallationDeclined is reported in a Result when the user refuses an
// elevation or installation prompt. It is never returned as an error.
var ErrInstallationDeclined = errors.New("installation declined by user")

// ErrManualInstallRequired is reported for dependencies that must be installed by hand
var ErrManualInstallRequired = errors.New("manual installation required")

// TrackedKinds are the dependencies the installer probes and installs
var TrackedKinds = []binaries.Kind{binaries.Interpreter, binaries.DatabaseServer, binaries.CLITool}

// DependencyStatus describes one dependency
type DependencyStatus struct {
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
}

// Status maps each tracked kind to its state
type Status map[binaries.Kind]DependencyStatus

// Missing returns the kinds that are not installed, in a stable order
func (s Status) Missing() []binaries.Kind {
	var missing []binaries.Kind
	for _, kind := range TrackedKinds {
		if !s[kind].Installed {
			missing = append(missing, kind)
		}
	}
	return missing
}

// Result is the outcome of an installation attempt
type Result struct {
	Success      bool            `json:"success"`
	Installed    []binaries.Kind `json:"installed"`
	Skipped      []binaries.Kind `json:"skipped,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
	Instructions []string        `json:"instructions,omitempty"`
	Declined     bool            `json:"declined"`

	err error
}

// Err returns every recorded failure combined, or nil
func (r *Result) Err() error {
	return r.err
}

func (r *Result) fail(kind binaries.Kind, err error) {
	wrapped := fmt.Errorf("%s: %w", kind, err)
	r.err = multierr.Append(r.err, wrapped)
	r.Errors = append(r.Errors, wrapped.Error())
}

// finish computes success from a fresh probe: every originally missing kind must be present
func (r *Result) finish(requested []binaries.Kind, after Status) {
	r.Installed = r.Installed[:0]
	r.Skipped = r.Skipped[:0]
	for _, kind := range requested {
		if after[kind].Installed {
			r.Installed = append(r.Installed, kind)
		} else {
			r.Skipped = append(r.Skipped, kind)
		}
	}
	r.Success = len(r.Skipped) == 0
}

// Installer probes and installs dependencies for one platform
type Installer interface {
	// Platform returns the GOOS this installer targets
	Platform() string

	// Probe reports the current state of every tracked dependency. It is
	// recomputed on every call.
	Probe(ctx context.Context) Status

	// Install attempts to acquire missing. An empty slice installs whatever
	// Probe reports as missing.
	Install(ctx context.Context, missing []binaries.Kind) Result
}

// Deps are the collaborators shared by every platform installer
type Deps struct {
	Locator    *binaries.Locator
	Runner     CommandRunner
	Downloader Downloader
	Prompter   Prompter
	Config     config.InstallerConfig

	// UserDataDir roots the portable install tree
	UserDataDir string

	// OSReleasePath is read on Linux to pick package manager commands
	OSReleasePath string

	Logger *zap.Logger
}

func (d *Deps) applyDefaults() {
	if d.Runner == nil {
		d.Runner = ExecRunner{}
	}
	if d.Downloader == nil {
		d.Downloader = NewHTTPDownloader(d.Config.DownloadTimeout)
	}
	if d.Prompter == nil {
		d.Prompter = DeclinePrompter{}
	}
	if d.OSReleasePath == "" {
		d.OSReleasePath = "/etc/os-release"
	}
	if d.Config.CommandTimeout == 0 {
		d.Config.CommandTimeout = 30 * time.Minute
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
}

// ForPlatform selects the installer for goos
func ForPlatform(goos string, deps Deps) (Installer, error) {
	if deps.Locator == nil {
		return nil, errors.New("installer requires a binary locator")
	}
	deps.applyDefaults()
	logger := deps.Logger.Named("installer")

	base := prober{deps: deps, logger: logger}

	switch goos {
	case platform.Windows:
		return &windowsInstaller{prober: base}, nil
	case platform.Darwin:
		return &homebrewInstaller{prober: base}, nil
	case platform.Linux:
		return &linuxInstaller{prober: base}, nil
	default:
		return nil, fmt.Errorf("no installer for platform %q", goos)
	}
}

// prober implements Probe for every platform
type prober struct {
	deps   Deps
	logger *zap.Logger
}

func (p *prober) Probe(ctx context.Context) Status {
	status := make(Status, len(TrackedKinds))
	for _, kind := range TrackedKinds {
		res, err := p.deps.Locator.Resolve(kind)
		if err != nil {
			status[kind] = DependencyStatus{}
			continue
		}
		status[kind] = DependencyStatus{
			Installed: true,
			Path:      res.Path,
			Version:   p.version(ctx, res.Path),
		}
	}
	return status
}

// version runs `<binary> --version` and returns the first output line
func (p *prober) version(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := p.deps.Runner.Run(ctx, Command{Name: path, Args: []string{"--version"}})
	if err != nil {
		p.logger.Debug("Version probe failed", zap.String("binary", path), zap.Error(err))
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line)
}

// normalize de-duplicates requested kinds and drops untracked ones. An empty
// request means everything currently missing.
func (p *prober) normalize(ctx context.Context, requested []binaries.Kind) []binaries.Kind {
	if len(requested) == 0 {
		return p.Probe(ctx).Missing()
	}

	seen := make(map[binaries.Kind]bool)
	var out []binaries.Kind
	for _, kind := range requested {
		if kind == binaries.DatabaseClient {
			// ships with the server package
			kind = binaries.DatabaseServer
		}
		if seen[kind] || !isTracked(kind) {
			continue
		}
		seen[kind] = true
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return kindOrder(out[i]) < kindOrder(out[j]) })
	return out
}

func (p *prober) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.deps.Config.CommandTimeout)
}

func isTracked(kind binaries.Kind) bool {
	return kindOrder(kind) >= 0
}

func kindOrder(kind binaries.Kind) int {
	for i, k := range TrackedKinds {
		if k == kind {
			return i
		}
	}
	return -1
}
