package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/platform"
)

var homebrewLocations = []string{"/opt/homebrew/bin/brew", "/usr/local/bin/brew"}

// homebrewInstaller installs through Homebrew on macOS
type homebrewInstaller struct {
	prober

	// findBrew is replaced in tests
	findBrew func() (string, bool)
}

func (h *homebrewInstaller) Platform() string { return platform.Darwin }

func (h *homebrewInstaller) Install(ctx context.Context, requested []binaries.Kind) Result {
	missing := h.normalize(ctx, requested)
	var result Result
	if len(missing) == 0 {
		result.Success = true
		return result
	}

	brew, err := h.ensureHomebrew(ctx)
	if err != nil {
		for _, kind := range missing {
			result.fail(kind, err)
		}
		result.Instructions = append(result.Instructions,
			fmt.Sprintf(`/bin/bash -c "$(curl -fsSL %s)"`, h.deps.Config.HomebrewInstallURL))
		result.finish(missing, h.Probe(ctx))
		return result
	}

	for _, kind := range missing {
		formula := h.deps.Config.HomebrewFormulae[string(kind)]
		if formula == "" {
			result.fail(kind, fmt.Errorf("no Homebrew formula configured"))
			continue
		}

		if err := h.run(ctx, Command{Name: brew, Args: []string{"install", formula}, Env: []string{"HOMEBREW_NO_AUTO_UPDATE=1"}}); err != nil {
			h.logger.Warn("Homebrew install failed", zap.String("formula", formula), zap.Error(err))
			result.fail(kind, err)
			result.Instructions = append(result.Instructions, "brew install "+formula)
			continue
		}

		if kind == binaries.DatabaseServer {
			// Best effort: the supervisor starts its own server per app
			if err := h.run(ctx, Command{Name: brew, Args: []string{"services", "start", formula}}); err != nil {
				h.logger.Warn("Starting database service failed, continuing",
					zap.String("formula", formula),
					zap.Error(err))
			}
		}
	}

	result.finish(missing, h.Probe(ctx))
	return result
}

// ensureHomebrew returns the brew binary, bootstrapping Homebrew when absent
func (h *homebrewInstaller) ensureHomebrew(ctx context.Context) (string, error) {
	find := h.findBrew
	if find == nil {
		find = locateBrew
	}
	if brew, ok := find(); ok {
		return brew, nil
	}

	h.logger.Info("Homebrew not found, bootstrapping", zap.String("url", h.deps.Config.HomebrewInstallURL))
	script := fmt.Sprintf(`/bin/bash -c "$(curl -fsSL %s)"`, h.deps.Config.HomebrewInstallURL)
	if err := h.run(ctx, Command{Name: "/bin/bash", Args: []string{"-c", script}, Env: []string{"NONINTERACTIVE=1"}}); err != nil {
		return "", fmt.Errorf("homebrew bootstrap failed: %w", err)
	}

	if brew, ok := find(); ok {
		return brew, nil
	}
	return "", fmt.Errorf("homebrew bootstrap finished but brew was not found")
}

func (h *homebrewInstaller) run(ctx context.Context, cmd Command) error {
	ctx, cancel := h.commandContext(ctx)
	defer cancel()

	h.logger.Debug("Running command", zap.String("command", cmd.String()))
	_, err := h.deps.Runner.Run(ctx, cmd)
	return err
}

func locateBrew() (string, bool) {
	if path, err := exec.LookPath("brew"); err == nil {
		return path, true
	}
	for _, path := range homebrewLocations {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}
