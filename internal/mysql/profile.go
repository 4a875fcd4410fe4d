package mysql

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cboxdk/wp-runtime-manager/internal/platform"
)

// ErrSuperuserRefused is returned when a 9.x (or undetected) server on macOS
// would have to run as the superuser. Those builds misdetect root, so --user
// cannot be passed and running as root is not an option either.
var ErrSuperuserRefused = errors.New("refusing to run database server 9.x as superuser")

const (
	legacyAuthFlag = "--default-authentication-plugin=mysql_native_password"
	xPluginOffFlag = "--mysqlx=OFF"
)

// Profile is the set of version and platform dependent decisions for one
// database server binary. It is computed once per start and threaded through
// initialization and startup argument construction.
type Profile struct {
	Version  *Version `json:"version,omitempty"`
	Platform string   `json:"platform"`

	// Superuser is true when the supervisor runs as root/elevated
	Superuser bool   `json:"superuser"`
	Username  string `json:"username,omitempty"`

	IncludeUserFlag       bool `json:"include_user_flag"`
	IncludeLegacyAuthFlag bool `json:"include_legacy_auth_flag"`
	RefuseSuperuser       bool `json:"refuse_superuser"`
	DisableXPlugin        bool `json:"disable_x_plugin"`

	// AuthStatement switches the root account to a plugin the interpreter's
	// client can use. Empty means no adjustment.
	AuthStatement string `json:"auth_statement,omitempty"`
}

// NewProfile derives the profile for version on platform. A nil version is
// treated as the newest known major version.
func NewProfile(goos string, v *Version, superuser bool, username string) Profile {
	p := Profile{
		Version:   v,
		Platform:  goos,
		Superuser: superuser,
		Username:  username,
	}

	// --user only exists on unix-like servers
	canDropPrivileges := !superuser && username != "" && goos != platform.Windows

	switch {
	case v == nil || v.Major >= 9:
		if goos == platform.Darwin {
			p.RefuseSuperuser = true
		} else {
			p.IncludeUserFlag = canDropPrivileges
		}
		p.DisableXPlugin = true
		p.AuthStatement = "ALTER USER 'root'@'localhost' IDENTIFIED WITH caching_sha2_password BY ''"
	case v.Major == 8 && v.Minor >= 1:
		p.IncludeUserFlag = canDropPrivileges
		p.DisableXPlugin = true
		if v.AtLeast(8, 4) {
			// mysql_native_password is disabled by default from 8.4
			p.AuthStatement = "ALTER USER 'root'@'localhost' IDENTIFIED WITH caching_sha2_password BY ''"
		} else {
			p.AuthStatement = "ALTER USER 'root'@'localhost' IDENTIFIED WITH mysql_native_password BY ''"
		}
	case v.Major == 8:
		p.IncludeUserFlag = canDropPrivileges
		p.IncludeLegacyAuthFlag = true
		p.DisableXPlugin = true
		p.AuthStatement = "ALTER USER 'root'@'localhost' IDENTIFIED WITH mysql_native_password BY ''"
	default:
		p.IncludeUserFlag = canDropPrivileges
	}

	return p
}

// Check returns ErrSuperuserRefused when the profile forbids running as the
// current user
func (p Profile) Check() error {
	if p.RefuseSuperuser && p.Superuser {
		return fmt.Errorf("%w (version %s)", ErrSuperuserRefused, p.VersionString())
	}
	return nil
}

// VersionString returns the detected version or "unknown"
func (p Profile) VersionString() string {
	if p.Version == nil {
		return "unknown"
	}
	return p.Version.String()
}

func (p Profile) compatibilityArgs() []string {
	var args []string
	if p.IncludeUserFlag {
		args = append(args, "--user="+p.Username)
	}
	if p.IncludeLegacyAuthFlag {
		args = append(args, legacyAuthFlag)
	}
	return args
}

// InitArgs builds the one-time data directory initialization arguments
func (p Profile) InitArgs(dataDir, baseDir string) []string {
	args := []string{
		"--no-defaults",
		"--initialize-insecure",
		"--datadir=" + dataDir,
	}
	if baseDir != "" {
		args = append(args, "--basedir="+baseDir)
	}
	return append(args, p.compatibilityArgs()...)
}

// ServerOptions describes one database server instance
type ServerOptions struct {
	DataDir string
	BaseDir string
	Port    int
	RunDir  string // socket, pid file and error log are placed here
}

// SocketPath returns the unix socket path for opts, empty on Windows
func (p Profile) SocketPath(opts ServerOptions) string {
	if p.Platform == platform.Windows || opts.RunDir == "" {
		return ""
	}
	return filepath.Join(opts.RunDir, "mysqld.sock")
}

// ServerArgs builds the steady-state server arguments
func (p Profile) ServerArgs(opts ServerOptions) []string {
	args := []string{
		"--no-defaults",
		"--datadir=" + opts.DataDir,
		fmt.Sprintf("--port=%d", opts.Port),
		"--bind-address=127.0.0.1",
	}
	if opts.BaseDir != "" {
		args = append(args, "--basedir="+opts.BaseDir)
	}
	if socket := p.SocketPath(opts); socket != "" {
		args = append(args, "--socket="+socket)
	}
	if opts.RunDir != "" {
		args = append(args,
			"--pid-file="+filepath.Join(opts.RunDir, "mysqld.pid"),
			"--log-error="+filepath.Join(opts.RunDir, "mysqld.err"))
	}
	if p.DisableXPlugin {
		args = append(args, xPluginOffFlag)
	}
	return append(args, p.compatibilityArgs()...)
}
