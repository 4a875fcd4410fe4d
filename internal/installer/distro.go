package installer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/platform"
)

// linuxInstaller downloads the cli tool and tells the user how to install
// the interpreter and database server with the distribution's package manager
type linuxInstaller struct {
	prober
}

func (l *linuxInstaller) Platform() string { return platform.Linux }

func (l *linuxInstaller) Install(ctx context.Context, requested []binaries.Kind) Result {
	missing := l.normalize(ctx, requested)
	var result Result
	if len(missing) == 0 {
		result.Success = true
		return result
	}

	distro := readOSRelease(l.deps.OSReleasePath)
	commands := packageCommands(distro)

	for _, kind := range missing {
		if kind == binaries.CLITool {
			if err := l.installCLITool(ctx); err != nil {
				l.logger.Warn("CLI tool download failed", zap.Error(err))
				result.fail(kind, err)
			}
			continue
		}

		result.fail(kind, ErrManualInstallRequired)
		if cmd := commands[kind]; cmd != "" {
			result.Instructions = append(result.Instructions, cmd)
		}
	}

	result.finish(missing, l.Probe(ctx))
	return result
}

// installCLITool places the phar where the locator's portable tier looks on Linux
func (l *linuxInstaller) installCLITool(ctx context.Context) error {
	dest := l.deps.Locator.PortablePath(binaries.CLITool)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create portable directory: %w", err)
	}

	l.logger.Info("Downloading CLI tool",
		zap.String("url", l.deps.Config.CLIToolURL),
		zap.String("dest", dest))

	if err := l.deps.Downloader.Download(ctx, l.deps.Config.CLIToolURL, dest); err != nil {
		return err
	}
	if err := os.Chmod(dest, 0755); err != nil {
		return fmt.Errorf("failed to make CLI tool executable: %w", err)
	}
	return nil
}

// osRelease holds the ID fields of /etc/os-release
type osRelease struct {
	ID     string
	IDLike []string
}

func (r osRelease) is(ids ...string) bool {
	for _, id := range ids {
		if r.ID == id {
			return true
		}
		for _, like := range r.IDLike {
			if like == id {
				return true
			}
		}
	}
	return false
}

func readOSRelease(path string) osRelease {
	f, err := os.Open(path)
	if err != nil {
		return osRelease{}
	}
	defer f.Close()

	var r osRelease
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			r.ID = strings.ToLower(value)
		case "ID_LIKE":
			r.IDLike = strings.Fields(strings.ToLower(value))
		}
	}
	return r
}

// packageCommands returns the install command per kind for the distribution
func packageCommands(r osRelease) map[binaries.Kind]string {
	// RHEL derivatives list fedora in ID_LIKE, so they are matched first
	switch {
	case r.is("debian", "ubuntu"):
		return map[binaries.Kind]string{
			binaries.Interpreter:    "sudo apt-get install -y php-cli php-mysql php-curl php-gd php-mbstring php-xml php-zip",
			binaries.DatabaseServer: "sudo apt-get install -y mysql-server",
		}
	case r.is("rhel", "centos", "rocky", "almalinux"):
		return map[binaries.Kind]string{
			binaries.Interpreter:    "sudo dnf install -y php-cli php-mysqlnd php-gd php-mbstring php-xml",
			binaries.DatabaseServer: "sudo dnf install -y mysql-server",
		}
	case r.is("fedora"):
		return map[binaries.Kind]string{
			binaries.Interpreter:    "sudo dnf install -y php-cli php-mysqlnd php-gd php-mbstring php-xml",
			binaries.DatabaseServer: "sudo dnf install -y community-mysql-server",
		}
	case r.is("arch"):
		return map[binaries.Kind]string{
			binaries.Interpreter:    "sudo pacman -S --noconfirm php php-gd",
			binaries.DatabaseServer: "sudo pacman -S --noconfirm mariadb",
		}
	case r.is("suse", "opensuse"):
		return map[binaries.Kind]string{
			binaries.Interpreter:    "sudo zypper install -y php8 php8-mysql php8-gd php8-mbstring",
			binaries.DatabaseServer: "sudo zypper install -y mysql-community-server",
		}
	case r.is("alpine"):
		return map[binaries.Kind]string{
			binaries.Interpreter:    "sudo apk add php83 php83-mysqli php83-gd php83-mbstring",
			binaries.DatabaseServer: "sudo apk add mysql mysql-client",
		}
	default:
		return map[binaries.Kind]string{
			binaries.Interpreter:    "Install PHP 8 (CLI) with the mysqli extension using your distribution's package manager",
			binaries.DatabaseServer: "Install MySQL Server 8 or newer using your distribution's package manager",
		}
	}
}
