// Package platform provides the host facts and process-control primitives the
// runtime manager branches on: operating system, architecture, effective user
// and the per-user application-data directory.
//
// Process-group handling differs per platform and lives in the build-tagged
// process_*.go files.
package platform

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// Operating system identifiers as reported by runtime.GOOS
const (
	Linux   = "linux"
	Darwin  = "darwin"
	Windows = "windows"
)

// Info describes the host the runtime manager is running on
type Info struct {
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	Superuser   bool   `json:"superuser"`
	Username    string `json:"username"`
	UserDataDir string `json:"user_data_dir"`
}

// Detect inspects the current process and host
func Detect() Info {
	info := Info{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Superuser: isSuperuser(),
	}

	if u, err := user.Current(); err == nil {
		info.Username = u.Username
	} else if name := os.Getenv("USER"); name != "" {
		info.Username = name
	}

	if dir, err := os.UserConfigDir(); err == nil {
		info.UserDataDir = dir
	} else if home, err := os.UserHomeDir(); err == nil {
		info.UserDataDir = filepath.Join(home, ".config")
	}

	return info
}

// IsWindows reports whether the host is Windows
func (i Info) IsWindows() bool { return i.OS == Windows }

// IsDarwin reports whether the host is macOS
func (i Info) IsDarwin() bool { return i.OS == Darwin }

// IsLinux reports whether the host is Linux
func (i Info) IsLinux() bool { return i.OS == Linux }

// Target returns the "<os>-<arch>" directory name used for bundled binaries
func (i Info) Target() string {
	return i.OS + "-" + i.Arch
}

// ExecutableName appends the Windows executable suffix when goos requires it
func ExecutableName(name, goos string) string {
	if goos == Windows && filepath.Ext(name) != ".exe" {
		return name + ".exe"
	}
	return name
}
