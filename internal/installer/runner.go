package installer

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
)

// Command is an external program invocation
type Command struct {
	Name string
	Args []string
	Env  []string // appended to the current environment
}

// String renders the command for logs and instructions
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CommandRunner executes commands and returns their combined output
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements CommandRunner
func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", c.Name, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Downloader fetches a URL into a local file
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// HTTPDownloader downloads over HTTP(S)
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader creates a downloader with an overall timeout per file
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPDownloader{client: &http.Client{Timeout: timeout}}
}

// Download writes url to dest through a temporary file so a partial download
// never ends up at dest
func (d *HTTPDownloader) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed with status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close download: %w", err)
	}

	return os.Rename(tmp.Name(), dest)
}

// extractZip unpacks archive into dest, rejecting entries that escape dest
func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// InstallMode is the user's answer to the system-wide install prompt
type InstallMode int

const (
	ModeCancel InstallMode = iota
	ModeSystemWide
)

// Prompter asks the user how to proceed when portable installs were not enough
type Prompter interface {
	ChooseInstallMode(ctx context.Context, missing []binaries.Kind) (InstallMode, error)
}

// DeclinePrompter always cancels. It is used when nobody can answer a prompt.
type DeclinePrompter struct{}

// ChooseInstallMode implements Prompter
func (DeclinePrompter) ChooseInstallMode(context.Context, []binaries.Kind) (InstallMode, error) {
	return ModeCancel, nil
}

// TerminalPrompter asks on a terminal
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

// ChooseInstallMode implements Prompter
func (p TerminalPrompter) ChooseInstallMode(ctx context.Context, missing []binaries.Kind) (InstallMode, error) {
	names := make([]string, len(missing))
	for i, kind := range missing {
		names[i] = string(kind)
	}

	fmt.Fprintf(p.Out, "Still missing: %s\n", strings.Join(names, ", "))
	fmt.Fprint(p.Out, "Install system-wide with administrator rights? [y/N] ")

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.In).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return ModeCancel, ctx.Err()
	case a := <-answer:
		if a == "y" || a == "yes" {
			return ModeSystemWide, nil
		}
		return ModeCancel, nil
	}
}
