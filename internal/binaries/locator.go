// Package binaries resolves the executables the runtime manager supervises.
//
// Three tiers are searched in order and the first hit wins:
//
//  1. portable installs under <userData>/wordpress-runtime/portable/<dir>/bin
//     (Windows for every kind, Linux for the cli tool the installer drops there)
//  2. the system PATH plus any extra search directories, in development mode
//     or when system lookup is enabled for package-manager installs
//  3. bundled resources under <resources>/wordpress-runtime/<os>-<arch>/<dir>/bin
//
// Resolution never touches the network. A miss is reported as ErrNotFound and
// handed to the dependency installer by the caller.
package binaries

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/cboxdk/wp-runtime-manager/internal/platform"
)

// ErrNotFound is returned when no tier yields an executable
var ErrNotFound = errors.New("binary not found")

// Kind identifies one of the supervised executables
type Kind string

const (
	Interpreter    Kind = "interpreter"
	DatabaseServer Kind = "database-server"
	DatabaseClient Kind = "database-client"
	CLITool        Kind = "cli-tool"
)

// AllKinds lists every kind in a stable order
var AllKinds = []Kind{Interpreter, DatabaseServer, DatabaseClient, CLITool}

// RequiredKinds are the kinds a start cannot proceed without
var RequiredKinds = []Kind{Interpreter, DatabaseServer}

// Source identifies the tier a binary was resolved from
type Source string

const (
	SourcePortable Source = "portable"
	SourcePath     Source = "path"
	SourceBundled  Source = "bundled"
)

// Resolution is a located executable
type Resolution struct {
	Kind   Kind   `json:"kind"`
	Path   string `json:"path"`
	Source Source `json:"source"`
}

// BaseDir returns the installation root (the parent of bin/) for portable and
// bundled binaries. PATH binaries manage their own base directory.
func (r Resolution) BaseDir() string {
	if r.Source == SourcePath {
		return ""
	}
	return filepath.Dir(filepath.Dir(r.Path))
}

// Directory returns the per-kind directory name used in the portable and bundled trees
func (k Kind) Directory() string {
	switch k {
	case Interpreter:
		return "php"
	case DatabaseServer, DatabaseClient:
		return "mysql"
	case CLITool:
		return "wp-cli"
	default:
		return string(k)
	}
}

// Command returns the canonical command name without platform suffix
func (k Kind) Command() string {
	switch k {
	case Interpreter:
		return "php"
	case DatabaseServer:
		return "mysqld"
	case DatabaseClient:
		return "mysql"
	case CLITool:
		return "wp"
	default:
		return string(k)
	}
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Config configures a Locator
type Config struct {
	ResourcesDir string
	UserDataDir  string
	Development  bool
	SystemLookup bool     // Enable the PATH tier outside development mode
	SearchDirs   []string // Searched after PATH within the PATH tier, e.g. Homebrew prefixes
	OS           string
	Arch         string
}

// Locator resolves binaries across the search tiers
type Locator struct {
	cfg      Config
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

// NewLocator creates a locator. Empty OS and Arch default to the running platform.
func NewLocator(cfg Config) *Locator {
	if cfg.OS == "" {
		cfg.OS = runtime.GOOS
	}
	if cfg.Arch == "" {
		cfg.Arch = runtime.GOARCH
	}
	return &Locator{
		cfg:      cfg,
		lookPath: exec.LookPath,
		stat:     os.Stat,
	}
}

// PortableRoot returns the directory portable installs are placed under
func (l *Locator) PortableRoot() string {
	return PortableRoot(l.cfg.UserDataDir)
}

// PortableRoot returns <userData>/wordpress-runtime/portable
func PortableRoot(userDataDir string) string {
	return filepath.Join(userDataDir, "wordpress-runtime", "portable")
}

// PortablePath returns where the portable tier expects kind
func (l *Locator) PortablePath(kind Kind) string {
	return filepath.Join(l.PortableRoot(), kind.Directory(), "bin",
		platform.ExecutableName(kind.Command(), l.cfg.OS))
}

// BundledPath returns where the bundled tier expects kind
func (l *Locator) BundledPath(kind Kind) string {
	return filepath.Join(l.cfg.ResourcesDir, "wordpress-runtime", l.cfg.OS+"-"+l.cfg.Arch,
		kind.Directory(), "bin", platform.ExecutableName(kind.Command(), l.cfg.OS))
}

// portableSupported reports whether the portable tier applies to kind on this platform
func (l *Locator) portableSupported(kind Kind) bool {
	switch l.cfg.OS {
	case platform.Windows:
		return true
	case platform.Linux:
		return kind == CLITool
	default:
		return false
	}
}

// Resolve finds kind, returning ErrNotFound when every tier misses
func (l *Locator) Resolve(kind Kind) (Resolution, error) {
	if !kind.Valid() {
		return Resolution{}, fmt.Errorf("unknown binary kind %q", kind)
	}

	if l.portableSupported(kind) {
		if path := l.PortablePath(kind); l.isFile(path) {
			return Resolution{Kind: kind, Path: path, Source: SourcePortable}, nil
		}
	}

	if l.cfg.Development || l.cfg.SystemLookup {
		if path, ok := l.searchSystem(kind); ok {
			return Resolution{Kind: kind, Path: path, Source: SourcePath}, nil
		}
	}

	if l.cfg.ResourcesDir != "" {
		if path := l.BundledPath(kind); l.isFile(path) {
			return Resolution{Kind: kind, Path: path, Source: SourceBundled}, nil
		}
	}

	return Resolution{}, fmt.Errorf("%w: %s (%s)", ErrNotFound, kind, kind.Command())
}

// CheckAll resolves every kind and reports which are missing
func (l *Locator) CheckAll(kinds ...Kind) (bool, []Kind) {
	if len(kinds) == 0 {
		kinds = RequiredKinds
	}

	var missing []Kind
	for _, kind := range kinds {
		if _, err := l.Resolve(kind); err != nil {
			missing = append(missing, kind)
		}
	}
	return len(missing) == 0, missing
}

func (l *Locator) searchSystem(kind Kind) (string, bool) {
	name := platform.ExecutableName(kind.Command(), l.cfg.OS)
	if path, err := l.lookPath(name); err == nil {
		return path, true
	}
	for _, dir := range l.cfg.SearchDirs {
		if path := filepath.Join(dir, name); l.isFile(path) {
			return path, true
		}
	}
	return "", false
}

func (l *Locator) isFile(path string) bool {
	info, err := l.stat(path)
	return err == nil && !info.IsDir()
}
