// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	runtime, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if runtime.Tools.Bwrap != "bwrap" {
		t.Errorf("Tools.Bwrap = %q, want %q", runtime.Tools.Bwrap, "bwrap")
	}
	if runtime.Tools.Socat != "socat" {
		t.Errorf("Tools.Socat = %q, want %q", runtime.Tools.Socat, "socat")
	}
	if runtime.Tools.Ripgrep.Command != "rg" {
		t.Errorf("Tools.Ripgrep.Command = %q, want %q", runtime.Tools.Ripgrep.Command, "rg")
	}
	if runtime.Shell != "bash" {
		t.Errorf("Shell = %q, want %q", runtime.Shell, "bash")
	}
}

func TestLoadFileWithPartialFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enclave.yaml")
	content := `
tools:
  bwrap: /opt/enclave/bin/bwrap
  ripgrep:
    command: mytool
    args: ["--ripgrep"]
shell: zsh
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	runtime, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if runtime.Tools.Bwrap != "/opt/enclave/bin/bwrap" {
		t.Errorf("Tools.Bwrap = %q", runtime.Tools.Bwrap)
	}
	// Unset fields fall back to defaults.
	if runtime.Tools.Socat != "socat" {
		t.Errorf("Tools.Socat = %q, want default", runtime.Tools.Socat)
	}
	if runtime.Tools.Ripgrep.Command != "mytool" {
		t.Errorf("Tools.Ripgrep.Command = %q", runtime.Tools.Ripgrep.Command)
	}
	if len(runtime.Tools.Ripgrep.Args) != 1 || runtime.Tools.Ripgrep.Args[0] != "--ripgrep" {
		t.Errorf("Tools.Ripgrep.Args = %v", runtime.Tools.Ripgrep.Args)
	}
	if runtime.Shell != "zsh" {
		t.Errorf("Shell = %q, want %q", runtime.Shell, "zsh")
	}
}

func TestLoadHonorsEnvironmentVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enclave.yaml")
	if err := os.WriteFile(path, []byte("shell: fish\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	runtime, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if runtime.Shell != "fish" {
		t.Errorf("Shell = %q, want %q", runtime.Shell, "fish")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing explicit config file")
	}
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("tools: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail for malformed YAML")
	}
}
