// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// SeccompProvider locates the precompiled seccomp artifacts that block
// Unix domain socket creation inside Linux sandboxes. The BPF program
// denies socket(AF_UNIX, ...) and nothing else; it cannot inspect socket
// paths, which is why per-path Unix socket allowances are macOS-only.
//
// Artifacts live under VendorDir/<arch>/ as unix-block.bpf and
// apply-seccomp, for the x64 and arm64 architectures.
type SeccompProvider struct {
	// VendorDir is the root of the per-architecture artifact tree.
	VendorDir string

	Logger *slog.Logger
}

// vendorArchitecture maps the running architecture to the vendor
// directory name. Empty means unsupported: 32-bit x86 is out because its
// socketcall multiplexer defeats per-syscall filtering, everything else
// because no filter is shipped for it.
func vendorArchitecture() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "arm64":
		return "arm64"
	default:
		return ""
	}
}

// FilterPath returns the path of the precompiled BPF filter, or "" when
// no filter is available for this architecture or the file is missing.
func (p *SeccompProvider) FilterPath() string {
	return p.artifactPath("unix-block.bpf")
}

// ApplyBinaryPath returns the path of the apply-seccomp helper that loads
// the filter and execs the confined command, or "" when unavailable.
func (p *SeccompProvider) ApplyBinaryPath() string {
	return p.artifactPath("apply-seccomp")
}

// Available reports whether both artifacts exist: the filter is only
// usable with its loader.
func (p *SeccompProvider) Available() bool {
	return p.FilterPath() != "" && p.ApplyBinaryPath() != ""
}

func (p *SeccompProvider) artifactPath(name string) string {
	arch := vendorArchitecture()
	if arch == "" {
		p.logger().Debug("seccomp unsupported on this architecture", "arch", runtime.GOARCH)
		return ""
	}
	if p.VendorDir == "" {
		return ""
	}

	path := filepath.Join(p.VendorDir, arch, name)
	if _, err := os.Stat(path); err != nil {
		p.logger().Debug("seccomp artifact not found", "path", path)
		return ""
	}
	return path
}

func (p *SeccompProvider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
