// Package provision creates the on-disk state of an app: the database data
// directory, the application config with generated secrets and the interpreter
// ini file.
//
// The application config is written once and never overwritten, since users
// edit it. The interpreter config is owned by the runtime manager and
// regenerated on every start.
package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	appConfigName      = "wp-config.php"
	runtimeDirName     = ".runtime-data"
	databaseDirName    = "database"
	interpreterIniName = "interpreter.ini"
	sessionsDirName    = "sessions"
	logsDirName        = "logs"
	defaultContentRoot = "wordpress"
)

// Layout is the set of paths belonging to one app
type Layout struct {
	AppPath        string `json:"app_path"`
	AppConfig      string `json:"app_config"`
	RuntimeDir     string `json:"runtime_dir"`
	DataDir        string `json:"data_dir"`
	InterpreterIni string `json:"interpreter_ini"`
	SessionsDir    string `json:"sessions_dir"`
	LogsDir        string `json:"logs_dir"`
	ContentRoot    string `json:"content_root"`
}

// NewLayout returns the layout of the app rooted at appPath. contentRootName
// defaults to "wordpress".
func NewLayout(appPath, contentRootName string) Layout {
	if contentRootName == "" {
		contentRootName = defaultContentRoot
	}
	runtimeDir := filepath.Join(appPath, runtimeDirName)
	return Layout{
		AppPath:        appPath,
		AppConfig:      filepath.Join(appPath, appConfigName),
		RuntimeDir:     runtimeDir,
		DataDir:        filepath.Join(runtimeDir, databaseDirName),
		InterpreterIni: filepath.Join(runtimeDir, interpreterIniName),
		SessionsDir:    filepath.Join(runtimeDir, sessionsDirName),
		LogsDir:        filepath.Join(runtimeDir, logsDirName),
		ContentRoot:    filepath.Join(appPath, contentRootName),
	}
}

// DataDirExists reports whether the database data directory is present
func (l Layout) DataDirExists() (bool, error) {
	info, err := os.Stat(l.DataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat data directory: %w", err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("data directory %s is not a directory", l.DataDir)
	}
	return true, nil
}

// InitializeDataDirectory creates the data directory when it is absent. An
// existing directory is never touched. created reports whether it was made.
func (l Layout) InitializeDataDirectory() (created bool, err error) {
	exists, err := l.DataDirExists()
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := os.MkdirAll(l.DataDir, 0750); err != nil {
		return false, fmt.Errorf("failed to create data directory: %w", err)
	}
	return true, nil
}

// WipeDataDirectory removes a partially initialized data directory
func (l Layout) WipeDataDirectory() error {
	if err := os.RemoveAll(l.DataDir); err != nil {
		return fmt.Errorf("failed to wipe data directory: %w", err)
	}
	return nil
}

// EnsureContentRoot creates the content root directory when missing. Its
// contents are provided by another component.
func (l Layout) EnsureContentRoot() error {
	if err := os.MkdirAll(l.ContentRoot, 0755); err != nil {
		return fmt.Errorf("failed to create content root: %w", err)
	}
	return nil
}

// EnsureRuntimeDirs creates the sessions and logs directories
func (l Layout) EnsureRuntimeDirs() error {
	for _, dir := range []string{l.SessionsDir, l.LogsDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
