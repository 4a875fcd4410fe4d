package installer

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/config"
)

type fakeRunner struct {
	mu       sync.Mutex
	commands []Command
	handle   func(cmd Command) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) ([]byte, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	if len(cmd.Args) == 1 && cmd.Args[0] == "--version" {
		return []byte(filepath.Base(cmd.Name) + " 1.2.3\nextra line\n"), nil
	}
	if f.handle != nil {
		return f.handle(cmd)
	}
	return nil, nil
}

func (f *fakeRunner) ran(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.Contains(c.String(), substr) {
			return true
		}
	}
	return false
}

type fakeDownloader struct {
	files map[string]func(dest string) error
	urls  []string
}

func (f *fakeDownloader) Download(_ context.Context, url, dest string) error {
	f.urls = append(f.urls, url)
	write, ok := f.files[url]
	if !ok {
		return errors.New("404 not found")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return write(dest)
}

type fakePrompter struct {
	mode   InstallMode
	err    error
	called bool
}

func (f *fakePrompter) ChooseInstallMode(context.Context, []binaries.Kind) (InstallMode, error) {
	f.called = true
	return f.mode, f.err
}

func writeFile(content string) func(string) error {
	return func(dest string) error { return os.WriteFile(dest, []byte(content), 0644) }
}

func writeZip(entries map[string]string) func(string) error {
	return func(dest string) error {
		f, err := os.Create(dest)
		if err != nil {
			return err
		}
		zw := zip.NewWriter(f)
		for name, content := range entries {
			w, err := zw.Create(name)
			if err != nil {
				return err
			}
			if _, err := w.Write([]byte(content)); err != nil {
				return err
			}
		}
		if err := zw.Close(); err != nil {
			return err
		}
		return f.Close()
	}
}

func touchExecutable(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("bin"), 0755); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestForPlatform(t *testing.T) {
	locator := binaries.NewLocator(binaries.Config{})
	for _, goos := range []string{"windows", "darwin", "linux"} {
		inst, err := ForPlatform(goos, Deps{Locator: locator, Logger: zaptest.NewLogger(t)})
		if err != nil {
			t.Fatalf("ForPlatform(%s) failed: %v", goos, err)
		}
		if inst.Platform() != goos {
			t.Errorf("Expected platform %s, got %s", goos, inst.Platform())
		}
	}

	if _, err := ForPlatform("plan9", Deps{Locator: locator}); err == nil {
		t.Error("Expected error for unsupported platform")
	}
	if _, err := ForPlatform("linux", Deps{}); err == nil {
		t.Error("Expected error without locator")
	}
}

func TestProbe(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	resources := t.TempDir()
	locator := binaries.NewLocator(binaries.Config{ResourcesDir: resources, OS: "linux", Arch: "amd64"})
	touchExecutable(t, locator.BundledPath(binaries.Interpreter))

	inst, err := ForPlatform("linux", Deps{Locator: locator, Runner: &fakeRunner{}, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("ForPlatform failed: %v", err)
	}

	status := inst.Probe(context.Background())
	php := status[binaries.Interpreter]
	if !php.Installed || php.Version != "php 1.2.3" || php.Path != locator.BundledPath(binaries.Interpreter) {
		t.Errorf("Unexpected interpreter status %+v", php)
	}
	if status[binaries.DatabaseServer].Installed {
		t.Error("Expected database server to be missing")
	}

	missing := status.Missing()
	if len(missing) != 2 || missing[0] != binaries.DatabaseServer || missing[1] != binaries.CLITool {
		t.Errorf("Expected [database-server cli-tool] missing, got %v", missing)
	}
}

func TestLinuxInstaller(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	dir := t.TempDir()
	osRelease := filepath.Join(dir, "os-release")
	if err := os.WriteFile(osRelease, []byte("NAME=\"Ubuntu\"\nID=ubuntu\nID_LIKE=debian\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := config.Default().Installer
	locator := binaries.NewLocator(binaries.Config{UserDataDir: dir, OS: "linux", Arch: "amd64"})
	downloader := &fakeDownloader{files: map[string]func(string) error{
		cfg.CLIToolURL: writeFile("#!/usr/bin/env php\n"),
	}}

	inst, err := ForPlatform("linux", Deps{
		Locator:       locator,
		Runner:        &fakeRunner{},
		Downloader:    downloader,
		Config:        cfg,
		UserDataDir:   dir,
		OSReleasePath: osRelease,
		Logger:        zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("ForPlatform failed: %v", err)
	}

	result := inst.Install(context.Background(), nil)

	if result.Success {
		t.Error("Expected failure while interpreter and database are missing")
	}
	if len(result.Installed) != 1 || result.Installed[0] != binaries.CLITool {
		t.Errorf("Expected cli tool installed, got %v", result.Installed)
	}
	if len(result.Skipped) != 2 {
		t.Errorf("Expected 2 skipped, got %v", result.Skipped)
	}
	if !errors.Is(result.Err(), ErrManualInstallRequired) {
		t.Errorf("Expected manual install error, got %v", result.Err())
	}

	joined := strings.Join(result.Instructions, "\n")
	if !strings.Contains(joined, "apt-get install -y php-cli") || !strings.Contains(joined, "mysql-server") {
		t.Errorf("Expected apt-get instructions, got %q", joined)
	}

	info, err := os.Stat(locator.PortablePath(binaries.CLITool))
	if err != nil {
		t.Fatalf("Expected cli tool at portable path: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("Expected cli tool to be executable, mode %v", info.Mode())
	}
}

func TestLinuxInstallerDownloadFailureDoesNotAbortOthers(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	dir := t.TempDir()
	locator := binaries.NewLocator(binaries.Config{UserDataDir: dir, OS: "linux", Arch: "amd64"})

	inst, _ := ForPlatform("linux", Deps{
		Locator:       locator,
		Runner:        &fakeRunner{},
		Downloader:    &fakeDownloader{},
		Config:        config.Default().Installer,
		OSReleasePath: filepath.Join(dir, "missing"),
		Logger:        zaptest.NewLogger(t),
	})

	result := inst.Install(context.Background(), []binaries.Kind{binaries.CLITool, binaries.Interpreter})
	if result.Success {
		t.Fatal("Expected failure")
	}
	if len(result.Errors) != 2 {
		t.Errorf("Expected an error per dependency, got %v", result.Errors)
	}
	if len(result.Instructions) != 1 || !strings.Contains(result.Instructions[0], "PHP") {
		t.Errorf("Expected generic interpreter instructions, got %v", result.Instructions)
	}
}

func TestWindowsInstallerPortableThenDecline(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	dir := t.TempDir()
	locator := binaries.NewLocator(binaries.Config{UserDataDir: dir, OS: "windows", Arch: "amd64"})

	cfg := config.Default().Installer
	cfg.PortableArchives = map[string]string{
		"interpreter": "https://example.com/php.zip",
	}
	downloader := &fakeDownloader{files: map[string]func(string) error{
		"https://example.com/php.zip": writeZip(map[string]string{"bin/php.exe": "MZ", "ext/php_mysqli.dll": "MZ"}),
	}}
	prompter := &fakePrompter{mode: ModeCancel}
	runner := &fakeRunner{}

	inst, _ := ForPlatform("windows", Deps{
		Locator:     locator,
		Runner:      runner,
		Downloader:  downloader,
		Prompter:    prompter,
		Config:      cfg,
		UserDataDir: dir,
		Logger:      zaptest.NewLogger(t),
	})

	result := inst.Install(context.Background(), []binaries.Kind{binaries.Interpreter, binaries.DatabaseServer})

	if !prompter.called {
		t.Error("Expected prompt for remaining dependencies")
	}
	if !result.Declined {
		t.Error("Expected declined result")
	}
	if result.Success {
		t.Error("Expected failure when database server is still missing")
	}
	if len(result.Installed) != 1 || result.Installed[0] != binaries.Interpreter {
		t.Errorf("Expected interpreter installed from portable archive, got %v", result.Installed)
	}
	if !strings.Contains(strings.Join(result.Errors, "\n"), ErrInstallationDeclined.Error()) {
		t.Errorf("Expected declined reason in errors, got %v", result.Errors)
	}
	if runner.ran("winget") {
		t.Error("Expected no winget invocation after decline")
	}
}

func TestWindowsInstallerSystemWide(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	dir := t.TempDir()
	locator := binaries.NewLocator(binaries.Config{UserDataDir: dir, OS: "windows", Arch: "amd64"})

	runner := &fakeRunner{handle: func(cmd Command) ([]byte, error) {
		// Simulate winget placing the server where the portable tier finds it
		touchExecutable(t, locator.PortablePath(binaries.DatabaseServer))
		return nil, nil
	}}

	inst, _ := ForPlatform("windows", Deps{
		Locator:     locator,
		Runner:      runner,
		Downloader:  &fakeDownloader{},
		Prompter:    &fakePrompter{mode: ModeSystemWide},
		Config:      config.Default().Installer,
		UserDataDir: dir,
		Logger:      zaptest.NewLogger(t),
	})

	result := inst.Install(context.Background(), []binaries.Kind{binaries.DatabaseServer})
	if !result.Success {
		t.Errorf("Expected success, got %+v", result)
	}
	if !runner.ran("Oracle.MySQL") {
		t.Error("Expected winget install of the MySQL package")
	}
}

func TestHomebrewInstaller(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	brewBin := t.TempDir()
	locator := binaries.NewLocator(binaries.Config{
		SystemLookup: true,
		SearchDirs:   []string{brewBin},
		OS:           "darwin",
		Arch:         "arm64",
	})

	runner := &fakeRunner{handle: func(cmd Command) ([]byte, error) {
		args := strings.Join(cmd.Args, " ")
		switch args {
		case "install php":
			touchExecutable(t, filepath.Join(brewBin, "php"))
		case "install mysql":
			touchExecutable(t, filepath.Join(brewBin, "mysqld"))
		case "services start mysql":
			return nil, errors.New("launchctl failed")
		case "install wp-cli":
			return nil, errors.New("formula not found")
		}
		return nil, nil
	}}

	inst, _ := ForPlatform("darwin", Deps{
		Locator: locator,
		Runner:  runner,
		Config:  config.Default().Installer,
		Logger:  zaptest.NewLogger(t),
	})
	inst.(*homebrewInstaller).findBrew = func() (string, bool) { return "/opt/homebrew/bin/brew", true }

	result := inst.Install(context.Background(), nil)

	if result.Success {
		t.Error("Expected failure because the cli tool formula failed")
	}
	if len(result.Installed) != 2 {
		t.Errorf("Expected interpreter and database installed, got %v", result.Installed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "cli-tool") {
		t.Errorf("Expected only the cli tool error, got %v", result.Errors)
	}
	if !runner.ran("services start mysql") {
		t.Error("Expected best-effort service start after database install")
	}
}

func TestHomebrewBootstrapFailure(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	locator := binaries.NewLocator(binaries.Config{OS: "darwin", Arch: "arm64"})
	runner := &fakeRunner{handle: func(cmd Command) ([]byte, error) {
		return nil, errors.New("network unreachable")
	}}

	inst, _ := ForPlatform("darwin", Deps{
		Locator: locator,
		Runner:  runner,
		Config:  config.Default().Installer,
		Logger:  zaptest.NewLogger(t),
	})
	inst.(*homebrewInstaller).findBrew = func() (string, bool) { return "", false }

	result := inst.Install(context.Background(), []binaries.Kind{binaries.Interpreter})
	if result.Success || len(result.Instructions) != 1 {
		t.Errorf("Expected failure with bootstrap instructions, got %+v", result)
	}
	if !runner.ran("NONINTERACTIVE") && !runner.ran("/bin/bash") {
		t.Error("Expected bootstrap attempt")
	}
}

func TestInstallNothingMissing(t *testing.T) {
	resources := t.TempDir()
	locator := binaries.NewLocator(binaries.Config{ResourcesDir: resources, OS: "linux", Arch: "amd64"})
	for _, kind := range TrackedKinds {
		touchExecutable(t, locator.BundledPath(kind))
	}

	inst, _ := ForPlatform("linux", Deps{Locator: locator, Runner: &fakeRunner{}, Logger: zaptest.NewLogger(t)})
	result := inst.Install(context.Background(), nil)
	if !result.Success || len(result.Errors) != 0 {
		t.Errorf("Expected trivial success, got %+v", result)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	if err := writeZip(map[string]string{"../escape.txt": "x"})(archive); err != nil {
		t.Fatalf("writeZip: %v", err)
	}

	if err := extractZip(archive, filepath.Join(dir, "out")); err == nil {
		t.Error("Expected traversal to be rejected")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err == nil {
		t.Error("File escaped the destination")
	}
}

func TestPackageCommands(t *testing.T) {
	tests := []struct {
		release  osRelease
		contains string
	}{
		{osRelease{ID: "debian"}, "apt-get"},
		{osRelease{ID: "linuxmint", IDLike: []string{"ubuntu", "debian"}}, "apt-get"},
		{osRelease{ID: "fedora"}, "community-mysql-server"},
		{osRelease{ID: "rocky", IDLike: []string{"rhel", "centos", "fedora"}}, "dnf install -y mysql-server"},
		{osRelease{ID: "arch"}, "pacman"},
		{osRelease{ID: "opensuse-tumbleweed", IDLike: []string{"opensuse", "suse"}}, "zypper"},
		{osRelease{ID: "alpine"}, "apk add"},
	}

	for _, tt := range tests {
		t.Run(tt.release.ID, func(t *testing.T) {
			cmds := packageCommands(tt.release)
			joined := cmds[binaries.Interpreter] + "\n" + cmds[binaries.DatabaseServer]
			if !strings.Contains(joined, tt.contains) {
				t.Errorf("Expected %q in %q", tt.contains, joined)
			}
		})
	}
}
