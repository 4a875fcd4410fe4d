package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/platform"
)

// windowsInstaller tries portable archives first, then offers an elevated
// winget install for whatever is left
type windowsInstaller struct {
	prober
}

func (w *windowsInstaller) Platform() string { return platform.Windows }

func (w *windowsInstaller) Install(ctx context.Context, requested []binaries.Kind) Result {
	missing := w.normalize(ctx, requested)
	var result Result
	if len(missing) == 0 {
		result.Success = true
		return result
	}

	for _, kind := range missing {
		if err := w.installPortable(ctx, kind); err != nil {
			w.logger.Warn("Portable install failed",
				zap.String("kind", string(kind)),
				zap.Error(err))
			result.fail(kind, err)
		}
	}

	stillMissing := w.stillMissing(ctx, missing)
	if len(stillMissing) > 0 {
		mode, err := w.deps.Prompter.ChooseInstallMode(ctx, stillMissing)
		switch {
		case err != nil:
			w.logger.Warn("Install prompt failed", zap.Error(err))
			result.Declined = true
			result.Errors = append(result.Errors, fmt.Sprintf("%v: %v", ErrInstallationDeclined, err))
		case mode == ModeSystemWide:
			for _, kind := range stillMissing {
				if err := w.installSystemWide(ctx, kind); err != nil {
					result.fail(kind, err)
				}
			}
		default:
			w.logger.Info("System-wide install declined", zap.Int("missing", len(stillMissing)))
			result.Declined = true
			result.Errors = append(result.Errors, ErrInstallationDeclined.Error())
		}
	}

	result.finish(missing, w.Probe(ctx))
	return result
}

func (w *windowsInstaller) stillMissing(ctx context.Context, kinds []binaries.Kind) []binaries.Kind {
	status := w.Probe(ctx)
	var out []binaries.Kind
	for _, kind := range kinds {
		if !status[kind].Installed {
			out = append(out, kind)
		}
	}
	return out
}

// installPortable downloads the kind's archive and unpacks it into
// <portable>/<dir>, where the locator's portable tier finds it
func (w *windowsInstaller) installPortable(ctx context.Context, kind binaries.Kind) error {
	url := w.deps.Config.PortableArchives[string(kind)]
	if url == "" {
		return fmt.Errorf("no portable archive configured")
	}

	dest := filepath.Join(binaries.PortableRoot(w.deps.UserDataDir), kind.Directory())
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create portable directory: %w", err)
	}

	archive := filepath.Join(dest, ".archive.zip")
	defer os.Remove(archive)

	w.logger.Info("Downloading portable package",
		zap.String("kind", string(kind)),
		zap.String("url", url))

	if err := w.deps.Downloader.Download(ctx, url, archive); err != nil {
		return err
	}
	if err := extractZip(archive, dest); err != nil {
		return err
	}

	if _, err := w.deps.Locator.Resolve(kind); err != nil {
		return fmt.Errorf("archive did not contain %s: %w", filepath.Join("bin", platform.ExecutableName(kind.Command(), platform.Windows)), err)
	}
	return nil
}

// installSystemWide runs winget through an elevated PowerShell. The UAC prompt
// may be refused, which surfaces as a non-zero exit.
func (w *windowsInstaller) installSystemWide(ctx context.Context, kind binaries.Kind) error {
	pkg := w.deps.Config.WindowsPackages[string(kind)]
	if pkg == "" {
		return errors.New("no winget package configured")
	}

	wingetArgs := strings.Join([]string{
		"install", "--id", pkg, "--exact", "--silent",
		"--accept-package-agreements", "--accept-source-agreements",
	}, " ")

	cmd := Command{
		Name: "powershell",
		Args: []string{
			"-NoProfile", "-NonInteractive", "-Command",
			fmt.Sprintf("$p = Start-Process winget -ArgumentList '%s' -Verb RunAs -Wait -PassThru; exit $p.ExitCode", wingetArgs),
		},
	}

	ctx, cancel := w.commandContext(ctx)
	defer cancel()

	w.logger.Info("Installing system-wide", zap.String("kind", string(kind)), zap.String("package", pkg))
	if _, err := w.deps.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("winget install of %s failed: %w", pkg, err)
	}
	return nil
}
