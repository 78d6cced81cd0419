// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package ripgrep

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// stubTool writes an executable shell script to a temp dir and returns a
// Config pointing at it. The script body runs with the original arguments.
func stubTool(t *testing.T, body string) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-rg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return Config{Command: path}
}

func TestRunReturnsMatchingLines(t *testing.T) {
	config := stubTool(t, "printf 'a.txt\\nb/c.txt\\n'")

	lines, err := Run(context.Background(), config, []string{"--files"}, ".")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	want := []string{"a.txt", "b/c.txt"}
	if len(lines) != len(want) {
		t.Fatalf("Run() returned %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRunExitOneMeansNoMatches(t *testing.T) {
	config := stubTool(t, "exit 1")

	lines, err := Run(context.Background(), config, []string{"--files"}, ".")
	if err != nil {
		t.Fatalf("Run() error for exit code 1: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Run() = %v, want no lines", lines)
	}
}

func TestRunOtherExitCodesFail(t *testing.T) {
	config := stubTool(t, "echo 'bad pattern' >&2; exit 2")

	_, err := Run(context.Background(), config, []string{"--files"}, ".")
	if err == nil {
		t.Fatal("Run() should fail for exit code 2")
	}
	if !strings.Contains(err.Error(), "exit code 2") {
		t.Errorf("error %q should mention exit code 2", err)
	}
}

func TestRunMissingBinaryFails(t *testing.T) {
	config := Config{Command: filepath.Join(t.TempDir(), "does-not-exist")}

	_, err := Run(context.Background(), config, []string{"--files"}, ".")
	if err == nil {
		t.Fatal("Run() should fail for a missing binary")
	}
}

func TestRunPrependsConfiguredArgs(t *testing.T) {
	// The stub echoes its arguments; the configured leading arg must come
	// before the per-call arguments, and the target last.
	config := stubTool(t, `echo "$@"`)
	config.Args = []string{"--ripgrep"}

	lines, err := Run(context.Background(), config, []string{"--files"}, "/some/dir")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("Run() = %v, want a single echoed line", lines)
	}
	if lines[0] != "--ripgrep --files /some/dir" {
		t.Errorf("argument order = %q, want %q", lines[0], "--ripgrep --files /some/dir")
	}
}

func TestDefaultUsesRg(t *testing.T) {
	if Default().Command != "rg" {
		t.Errorf("Default().Command = %q, want %q", Default().Command, "rg")
	}
}
