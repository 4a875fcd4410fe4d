package mysql

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected *Version
	}{
		{
			name:     "homebrew 9.2",
			output:   "mysqld  Ver 9.2.0 for osx10.19 on x86_64 (Homebrew)",
			expected: &Version{Major: 9, Minor: 2, Patch: 0},
		},
		{
			name:     "community 8.0.33",
			output:   "mysqld  Ver 8.0.33 for Linux on x86_64 (MySQL Community Server - GPL)",
			expected: &Version{Major: 8, Minor: 0, Patch: 33},
		},
		{
			name:     "mariadb style",
			output:   "/usr/sbin/mysqld  Ver 10.11.6-MariaDB-0+deb12u1 for debian-linux-gnu on x86_64",
			expected: &Version{Major: 10, Minor: 11, Patch: 6},
		},
		{
			name:     "trailing newline",
			output:   "mysqld  Ver 5.7.44 for Win64 on x86_64 (MySQL Community Server (GPL))\r\n",
			expected: &Version{Major: 5, Minor: 7, Patch: 44},
		},
		{name: "garbage", output: "command not found: mysqld", expected: nil},
		{name: "empty", output: "", expected: nil},
		{name: "partial version", output: "mysqld Ver 8.0", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVersion(tt.output)
			if tt.expected == nil {
				if got != nil {
					t.Errorf("Expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Expected %+v, got nil", tt.expected)
			}
			if *got != *tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, got)
			}
		})
	}
}

func TestVersionAtLeast(t *testing.T) {
	v := Version{Major: 8, Minor: 4, Patch: 2}

	if !v.AtLeast(8, 4) || !v.AtLeast(8, 0) || !v.AtLeast(5, 7) {
		t.Error("Expected 8.4.2 to be at least 8.4, 8.0 and 5.7")
	}
	if v.AtLeast(8, 5) || v.AtLeast(9, 0) {
		t.Error("Expected 8.4.2 to be below 8.5 and 9.0")
	}
	if v.String() != "8.4.2" {
		t.Errorf("Unexpected string %s", v.String())
	}
}

func TestDetector(t *testing.T) {
	var gotArgs []string
	d := NewDetector(0, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte("mysqld  Ver 8.0.35 for Linux on x86_64 (MySQL Community Server - GPL)\n"), nil
	}, zaptest.NewLogger(t))

	v := d.Detect(context.Background(), "/opt/mysql/bin/mysqld")
	if v == nil || *v != (Version{8, 0, 35}) {
		t.Fatalf("Expected 8.0.35, got %+v", v)
	}
	if len(gotArgs) != 2 || gotArgs[1] != "--version" {
		t.Errorf("Expected --version invocation, got %v", gotArgs)
	}
}

func TestDetectorFailureReturnsNil(t *testing.T) {
	d := NewDetector(0, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exec format error")
	}, zaptest.NewLogger(t))

	if v := d.Detect(context.Background(), "/bin/false"); v != nil {
		t.Errorf("Expected nil version on failure, got %+v", v)
	}
}
