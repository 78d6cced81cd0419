// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides runtime configuration for Enclave binaries.
//
// Configuration is loaded from a single YAML file specified by:
//   - the ENCLAVE_CONFIG environment variable, or
//   - the --config flag passed to the command.
//
// There are no fallbacks or automatic discovery. When no file is given the
// built-in defaults apply. The config names the external tools the sandbox
// depends on (bubblewrap, socat, ripgrep) and the directory holding the
// precompiled seccomp artifacts, so deployments can pin hermetic binary
// paths independent of user PATH.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/enclave-foundation/enclave/lib/ripgrep"
)

// EnvConfigPath is the environment variable naming the config file.
const EnvConfigPath = "ENCLAVE_CONFIG"

// Runtime is the master configuration for Enclave binaries.
type Runtime struct {
	// Tools names the external executables the sandbox invokes.
	Tools ToolsConfig `yaml:"tools"`

	// SeccompVendorDir is the directory holding precompiled seccomp
	// artifacts, organized as <dir>/<arch>/{unix-block.bpf,apply-seccomp}.
	// Empty means the default vendor directory next to the binary.
	SeccompVendorDir string `yaml:"seccomp_vendor_dir,omitempty"`

	// Shell is the shell used to run wrapped commands. Defaults to bash.
	Shell string `yaml:"shell,omitempty"`
}

// ToolsConfig names the external executables the sandbox depends on.
// Values may be bare names (resolved via PATH) or absolute paths.
type ToolsConfig struct {
	// Bwrap is the bubblewrap binary (Linux confinement).
	Bwrap string `yaml:"bwrap"`

	// Socat is the Unix-socket-to-TCP forwarding helper (Linux bridge).
	Socat string `yaml:"socat"`

	// Ripgrep configures the recursive file-search tool used for
	// protective deny-path discovery.
	Ripgrep ripgrep.Config `yaml:"ripgrep"`
}

// Default returns the built-in runtime configuration.
func Default() Runtime {
	return Runtime{
		Tools: ToolsConfig{
			Bwrap:   "bwrap",
			Socat:   "socat",
			Ripgrep: ripgrep.Default(),
		},
		Shell: "bash",
	}
}

// Load reads a runtime configuration. The path argument wins; when empty,
// ENCLAVE_CONFIG is consulted; when that is also empty, defaults are
// returned. Missing fields in a loaded file fall back to defaults.
func Load(path string) (Runtime, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	runtime := Default()
	if path == "" {
		return runtime, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Runtime{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &runtime); err != nil {
		return Runtime{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	runtime.applyDefaults()
	return runtime, nil
}

// applyDefaults fills zero-valued fields with the built-in defaults.
func (r *Runtime) applyDefaults() {
	defaults := Default()
	if r.Tools.Bwrap == "" {
		r.Tools.Bwrap = defaults.Tools.Bwrap
	}
	if r.Tools.Socat == "" {
		r.Tools.Socat = defaults.Tools.Socat
	}
	if r.Tools.Ripgrep.Command == "" {
		r.Tools.Ripgrep = defaults.Tools.Ripgrep
	}
	if r.Shell == "" {
		r.Shell = defaults.Shell
	}
}
