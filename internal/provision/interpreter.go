package provision

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// InterpreterParams are the settings rendered into the interpreter ini file
type InterpreterParams struct {
	Port              int
	ExtensionDir      string
	Extensions        []string
	MemoryLimit       string
	UploadMaxFilesize string
	MaxExecutionTime  int
}

var interpreterTemplate = template.Must(template.New("interpreter.ini").Parse(`; Generated by wp-runtime-manager on every start. Do not edit.
; Serving 127.0.0.1:{{ .Port }}

memory_limit = {{ .MemoryLimit }}
upload_max_filesize = {{ .UploadMaxFilesize }}
post_max_size = {{ .UploadMaxFilesize }}
max_execution_time = {{ .MaxExecutionTime }}
display_errors = Off
log_errors = On
error_log = "{{ .ErrorLog }}"
session.save_path = "{{ .SessionsDir }}"
{{ if .ExtensionDir }}extension_dir = "{{ .ExtensionDir }}"
{{ end }}{{ range .Extensions }}extension = {{ . }}
{{ end }}`))

// WriteInterpreterConfig renders the interpreter ini, replacing any previous
// file. The sessions and logs directories referenced by it are created too.
func (l Layout) WriteInterpreterConfig(params InterpreterParams) error {
	if params.MemoryLimit == "" {
		params.MemoryLimit = "256M"
	}
	if params.UploadMaxFilesize == "" {
		params.UploadMaxFilesize = "64M"
	}
	if params.MaxExecutionTime == 0 {
		params.MaxExecutionTime = 300
	}

	if err := os.MkdirAll(filepath.Dir(l.InterpreterIni), 0755); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}
	if err := l.EnsureRuntimeDirs(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := interpreterTemplate.Execute(&buf, struct {
		InterpreterParams
		ErrorLog    string
		SessionsDir string
	}{
		InterpreterParams: params,
		ErrorLog:          filepath.ToSlash(filepath.Join(l.LogsDir, "php-error.log")),
		SessionsDir:       filepath.ToSlash(l.SessionsDir),
	}); err != nil {
		return fmt.Errorf("failed to render interpreter config: %w", err)
	}

	tmp := l.InterpreterIni + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write interpreter config: %w", err)
	}
	if err := os.Rename(tmp, l.InterpreterIni); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace interpreter config: %w", err)
	}
	return nil
}
