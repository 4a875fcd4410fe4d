// Package security validates identifiers, paths and arguments that reach the
// supervisor from the API and the command line.
package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxAppIDLength   = 64
	MaxAPIKeyLength  = 128
	MinAPIKeyLength  = 16
	MaxCLIArgs       = 64
	MaxCLIArgLength  = 4096
	maxSanitizedSize = 1000
)

var (
	// App id: starts alphanumeric, then alphanumerics, dashes, underscores and dots
	appIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

	// API key validation: alphanumeric and safe characters only
	apiKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidateAppID validates an app identifier used as a registry key and in log fields
func ValidateAppID(id string) error {
	if id == "" {
		return fmt.Errorf("app id cannot be empty")
	}
	if len(id) > MaxAppIDLength {
		return fmt.Errorf("app id too long: %d > %d", len(id), MaxAppIDLength)
	}
	if !appIDRegex.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("app id contains invalid characters: %q", id)
	}
	return nil
}

// ValidateAppPath validates the root directory of an app. It must be absolute
// and free of traversal segments and NUL bytes.
func ValidateAppPath(path string) error {
	if path == "" {
		return fmt.Errorf("app path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("app path contains null bytes")
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("app path contains invalid UTF-8")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("app path must be absolute: %s", path)
	}
	for _, segment := range strings.FieldsFunc(path, isSeparator) {
		if segment == ".." {
			return fmt.Errorf("app path contains directory traversal: %s", path)
		}
	}
	if filepath.Clean(path) == filepath.VolumeName(path)+string(filepath.Separator) {
		return fmt.Errorf("app path cannot be a filesystem root")
	}
	return nil
}

// ValidateCLIArgs validates the argument vector relayed to the cli tool. The
// arguments are passed without a shell, so only size and NUL bytes matter.
func ValidateCLIArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one cli argument is required")
	}
	if len(args) > MaxCLIArgs {
		return fmt.Errorf("too many cli arguments: %d > %d", len(args), MaxCLIArgs)
	}
	for i, arg := range args {
		if len(arg) > MaxCLIArgLength {
			return fmt.Errorf("cli argument %d too long", i)
		}
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("cli argument %d contains null bytes", i)
		}
		if strings.HasPrefix(arg, "--path") {
			return fmt.Errorf("cli argument %d overrides the app path", i)
		}
	}
	return nil
}

// ValidateAPIKey validates API key format and length
func ValidateAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if len(key) < MinAPIKeyLength {
		return fmt.Errorf("API key too short: %d < %d", len(key), MinAPIKeyLength)
	}
	if len(key) > MaxAPIKeyLength {
		return fmt.Errorf("API key too long: %d > %d", len(key), MaxAPIKeyLength)
	}
	if !apiKeyRegex.MatchString(key) {
		return fmt.Errorf("API key contains invalid characters")
	}
	return nil
}

// SanitizeUserInput removes control characters and bounds the length of
// free-form input before it is logged
func SanitizeUserInput(input string) string {
	input = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, input)

	if len(input) > maxSanitizedSize {
		input = input[:maxSanitizedSize]
	}

	return strings.TrimSpace(input)
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
