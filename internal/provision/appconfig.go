package provision

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"text/template"
)

// secretAlphabet is the WordPress salt alphabet without the quote and
// backslash characters, so every secret embeds safely in a single-quoted
// PHP string.
const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" +
	"!@#$%^&*()-_ []{}<>~`+=,.;:/?|"

const secretLength = 64

// SecretNames are the eight keys and salts of the application config
var SecretNames = []string{
	"AUTH_KEY", "SECURE_AUTH_KEY", "LOGGED_IN_KEY", "NONCE_KEY",
	"AUTH_SALT", "SECURE_AUTH_SALT", "LOGGED_IN_SALT", "NONCE_SALT",
}

// AppConfigParams are the values embedded into the application config
type AppConfigParams struct {
	DatabaseName    string
	DatabasePort    int
	ContentRootName string
	TablePrefix     string
	Debug           bool
}

type secret struct {
	Name  string
	Value string
}

var appConfigTemplate = template.Must(template.New("wp-config").Parse(`<?php
// Generated by wp-runtime-manager. Edits are preserved across restarts.

define( 'DB_NAME', '{{ .DatabaseName }}' );
define( 'DB_USER', 'root' );
define( 'DB_PASSWORD', '' );
define( 'DB_HOST', '127.0.0.1:{{ .DatabasePort }}' );
define( 'DB_CHARSET', 'utf8mb4' );
define( 'DB_COLLATE', '' );

{{ range .Secrets }}define( '{{ .Name }}', '{{ .Value }}' );
{{ end }}
$table_prefix = '{{ .TablePrefix }}';

define( 'WP_DEBUG', {{ if .Debug }}true{{ else }}false{{ end }} );

if ( ! defined( 'ABSPATH' ) ) {
	define( 'ABSPATH', __DIR__ . '/{{ .ContentRootName }}/' );
}

require_once ABSPATH . 'wp-settings.php';
`))

// GenerateSecret returns a random secret of n characters from the salt alphabet
func GenerateSecret(n int) (string, error) {
	max := big.NewInt(int64(len(secretAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[i] = secretAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// WriteAppConfig writes the application config if none exists. An existing
// file is left untouched regardless of params. written reports whether a new
// file was created.
func (l Layout) WriteAppConfig(params AppConfigParams) (written bool, err error) {
	if _, err := os.Stat(l.AppConfig); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to stat app config: %w", err)
	}

	if params.DatabaseName == "" {
		params.DatabaseName = "wordpress"
	}
	if params.ContentRootName == "" {
		params.ContentRootName = defaultContentRoot
	}
	if params.TablePrefix == "" {
		params.TablePrefix = "wp_"
	}

	secrets := make([]secret, 0, len(SecretNames))
	for _, name := range SecretNames {
		value, err := GenerateSecret(secretLength)
		if err != nil {
			return false, err
		}
		secrets = append(secrets, secret{Name: name, Value: value})
	}

	var buf bytes.Buffer
	if err := appConfigTemplate.Execute(&buf, struct {
		AppConfigParams
		Secrets []secret
	}{params, secrets}); err != nil {
		return false, fmt.Errorf("failed to render app config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.AppConfig), 0755); err != nil {
		return false, fmt.Errorf("failed to create app directory: %w", err)
	}

	// O_EXCL keeps a concurrently created file intact
	f, err := os.OpenFile(l.AppConfig, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create app config: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to write app config: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close app config: %w", err)
	}

	return true, nil
}
