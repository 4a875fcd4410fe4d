package supervisor

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/telemetry"
)

// CLIResult relays the outcome of a cli tool invocation unparsed
type CLIResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// RunCLI runs the cli tool against a running app. The tool runs in the content
// root through the app's interpreter and ini so it reaches the app database. A
// non-zero exit is reported in the result, not as an error.
func (s *Supervisor) RunCLI(ctx context.Context, appID string, args []string) (CLIResult, error) {
	inst := s.lookup(appID)
	if inst == nil {
		return CLIResult{}, ErrNotRunning
	}

	tool, err := s.locator.Resolve(binaries.CLITool)
	if err != nil {
		return CLIResult{}, &BinaryMissingError{Missing: []binaries.Kind{binaries.CLITool}}
	}

	ctx, span := s.tracer.StartSpan(ctx, telemetry.TraceCLIInvocation, attribute.String(telemetry.AttrAppID, appID))
	defer span.End()

	spec := ProcessSpec{Name: "cli", Dir: inst.layout.ContentRoot}
	toolArgs := append([]string{"--path=" + inst.layout.ContentRoot}, args...)
	if runsDirectly(tool.Path) {
		spec.Path = tool.Path
		spec.Args = toolArgs
	} else {
		spec.Path = inst.php.Path
		spec.Args = append([]string{"-c", inst.layout.InterpreterIni, tool.Path}, toolArgs...)
	}

	var stdout, stderr bytes.Buffer
	spec.Stdout = &stdout
	spec.Stderr = &stderr

	proc, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		s.tracer.RecordError(span, err, "spawn")
		return CLIResult{}, err
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		if err := proc.Kill(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to kill cli tool", zap.String("app_id", appID), zap.Error(err))
		}
		<-proc.Done()
		s.tracer.RecordError(span, ctx.Err(), "cancelled")
		return CLIResult{}, ctx.Err()
	}

	result := CLIResult{
		ExitCode: proc.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	s.tracer.SetSpanSuccess(span)

	s.logger.Debug("CLI tool finished",
		zap.String("app_id", appID),
		zap.Strings("args", args),
		zap.Int("exit_code", result.ExitCode))

	return result, nil
}

// runsDirectly reports whether the cli tool is a native launcher rather than
// an archive the interpreter has to run
func runsDirectly(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd":
		return true
	}
	return false
}
