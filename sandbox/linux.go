// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/enclave-foundation/enclave/lib/platform"
	"github.com/enclave-foundation/enclave/lib/ripgrep"
)

// ReadRestriction is the read side of a wrap: paths the command must not
// see. Reads are deny-only; everything not denied stays readable.
type ReadRestriction struct {
	Deny []string
}

// WriteRestriction is the write side of a wrap. Nil means unrestricted
// writes; a non-nil value with an empty Allow list means no writes at
// all. Deny entries carve read-only islands out of the allowed areas.
type WriteRestriction struct {
	Allow []string
	Deny  []string
}

// LinuxWrapSpec describes one command to confine on Linux.
type LinuxWrapSpec struct {
	// Command is the shell command to confine.
	Command string

	// NeedsNetworkRestriction unshares the network namespace and wires
	// the bridge sockets in.
	NeedsNetworkRestriction bool

	// HTTPSocketPath and SocksSocketPath are the bridge sockets to bind
	// into the sandbox. Required when NeedsNetworkRestriction is set.
	HTTPSocketPath  string
	SocksSocketPath string

	// HostHTTPProxyPort and HostSocksProxyPort are the host-side proxy
	// ports, exported into the sandbox environment for debugging.
	HostHTTPProxyPort  int
	HostSocksProxyPort int

	Read  *ReadRestriction
	Write *WriteRestriction

	// EnableWeakerNestedSandbox skips the fresh /proc mount, needed when
	// the runtime itself is containerized and the mount would fail.
	EnableWeakerNestedSandbox bool

	// AllowAllUnixSockets disables the seccomp Unix socket filter.
	AllowAllUnixSockets bool
}

// LinuxBuilder assembles bubblewrap command lines.
type LinuxBuilder struct {
	// BwrapPath is the bubblewrap binary.
	BwrapPath string

	// SocatPath is the socat binary used for the in-sandbox forwarders.
	SocatPath string

	// Shell is the absolute path of the shell that runs the confined
	// command.
	Shell string

	Seccomp *SeccompProvider
	Ripgrep ripgrep.Config
	Logger  *slog.Logger
}

// Wrap returns a shell command that runs spec.Command under bwrap with
// the requested restrictions. When the spec carries no restrictions at
// all, the command is returned unchanged.
func (b *LinuxBuilder) Wrap(ctx context.Context, spec LinuxWrapSpec) (string, error) {
	hasReadRestrictions := spec.Read != nil && len(spec.Read.Deny) > 0
	hasWriteRestrictions := spec.Write != nil

	if !spec.NeedsNetworkRestriction && !hasReadRestrictions && !hasWriteRestrictions {
		return spec.Command, nil
	}

	// Unix socket blocking applies whenever sandboxing is active, not
	// just with network rules. Missing artifacts fail the wrap:
	// allowAllUnixSockets is the only way to run without the filter.
	seccompFilterPath := ""
	if !spec.AllowAllUnixSockets {
		if b.Seccomp == nil || !b.Seccomp.Available() {
			return "", fmt.Errorf("seccomp artifacts unavailable for this architecture: unix socket blocking cannot be enforced (set allowAllUnixSockets to run without it)")
		}
		seccompFilterPath = b.Seccomp.FilterPath()
	}

	var args []string

	if spec.NeedsNetworkRestriction {
		networkArgs, err := b.networkArgs(spec)
		if err != nil {
			return "", err
		}
		args = append(args, networkArgs...)
	}

	filesystemArgs, err := b.filesystemArgs(ctx, spec.Read, spec.Write)
	if err != nil {
		return "", err
	}
	args = append(args, filesystemArgs...)

	args = append(args, "--dev", "/dev")

	args = append(args, "--unshare-pid")
	if !spec.EnableWeakerNestedSandbox {
		args = append(args, "--proc", "/proc")
	}

	inner, err := b.innerCommand(spec, seccompFilterPath)
	if err != nil {
		return "", err
	}
	args = append(args, "--", b.Shell, "-c", inner)

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(b.BwrapPath))
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}

	b.logger().Debug("wrapped command with bwrap",
		"network", spec.NeedsNetworkRestriction,
		"filesystem", hasReadRestrictions || hasWriteRestrictions,
		"seccomp", seccompFilterPath != "",
	)
	return strings.Join(parts, " "), nil
}

// networkArgs produces the namespace unshare, the bridge socket binds,
// and the proxy environment.
func (b *LinuxBuilder) networkArgs(spec LinuxWrapSpec) ([]string, error) {
	if spec.HTTPSocketPath == "" || spec.SocksSocketPath == "" {
		return nil, fmt.Errorf("network restriction requested but bridge socket paths are not available")
	}
	for _, socketPath := range []string{spec.HTTPSocketPath, spec.SocksSocketPath} {
		if _, err := os.Stat(socketPath); err != nil {
			return nil, fmt.Errorf("bridge socket %s does not exist (the bridge may have died, reinitialize the sandbox): %w", socketPath, err)
		}
	}

	args := []string{"--unshare-net"}
	args = append(args, "--bind", spec.HTTPSocketPath, spec.HTTPSocketPath)
	args = append(args, "--bind", spec.SocksSocketPath, spec.SocksSocketPath)

	// Tools inside the sandbox talk to the fixed in-sandbox listener
	// ports, not the host proxy ports.
	for _, entry := range ProxyEnvironment(insideHTTPPort, insideSocksPort, platform.Linux) {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		args = append(args, "--setenv", key, value)
	}

	if spec.HostHTTPProxyPort != 0 {
		args = append(args, "--setenv", "ENCLAVE_HOST_HTTP_PROXY_PORT", fmt.Sprintf("%d", spec.HostHTTPProxyPort))
	}
	if spec.HostSocksProxyPort != 0 {
		args = append(args, "--setenv", "ENCLAVE_HOST_SOCKS_PROXY_PORT", fmt.Sprintf("%d", spec.HostSocksProxyPort))
	}
	return args, nil
}

// filesystemArgs produces the bind mounts implementing the read and write
// restrictions. bwrap applies mounts in argument order, so later deny
// mounts shadow earlier allow mounts.
func (b *LinuxBuilder) filesystemArgs(ctx context.Context, read *ReadRestriction, write *WriteRestriction) ([]string, error) {
	var args []string

	if write != nil {
		// Read-only root, then punch writable holes for the allow list.
		args = append(args, "--ro-bind", "/", "/")

		var allowedPaths []string
		for _, pattern := range write.Allow {
			normalized := NormalizePath(pattern)

			// --dev /dev supplies the device nodes; binding them here
			// would conflict.
			if strings.HasPrefix(normalized, "/dev/") {
				continue
			}
			if _, err := os.Stat(normalized); err != nil {
				b.logger().Debug("skipping non-existent write path", "path", normalized)
				continue
			}

			args = append(args, "--bind", normalized, normalized)
			allowedPaths = append(allowedPaths, normalized)
		}

		denyPaths := append([]string{}, write.Deny...)
		mandatory, err := MandatoryDenyPaths(ctx, b.Ripgrep)
		if err != nil {
			return nil, err
		}
		denyPaths = append(denyPaths, mandatory...)

		for _, pattern := range denyPaths {
			normalized := NormalizePath(pattern)
			if strings.HasPrefix(normalized, "/dev/") {
				continue
			}
			if _, err := os.Stat(normalized); err != nil {
				continue
			}

			// A deny mount outside every allowed area is already
			// read-only from the root mount.
			withinAllowed := false
			for _, allowed := range allowedPaths {
				if isWithin(normalized, allowed) {
					withinAllowed = true
					break
				}
			}
			if withinAllowed {
				args = append(args, "--ro-bind", normalized, normalized)
			}
		}
	} else {
		args = append(args, "--bind", "/", "/")
	}

	var readDenyPaths []string
	if read != nil {
		readDenyPaths = append(readDenyPaths, read.Deny...)
	}
	// Hidden unconditionally: container runtimes mount ssh_config.d with
	// permissions that break ssh inside the sandbox.
	if _, err := os.Stat("/etc/ssh/ssh_config.d"); err == nil {
		readDenyPaths = append(readDenyPaths, "/etc/ssh/ssh_config.d")
	}

	for _, pattern := range readDenyPaths {
		normalized := NormalizePath(pattern)
		info, err := os.Stat(normalized)
		if err != nil {
			b.logger().Debug("skipping non-existent read deny path", "path", normalized)
			continue
		}
		if info.IsDir() {
			args = append(args, "--tmpfs", normalized)
		} else {
			args = append(args, "--ro-bind", "/dev/null", normalized)
		}
	}

	return args, nil
}

// innerCommand builds what the sandboxed shell executes. With network
// restriction: start the loopback-to-bridge forwarders, arrange their
// teardown, then run the user command — under the seccomp loader when
// available. The forwarders must be running before seccomp applies,
// because binding the in-sandbox listeners needs socket creation that the
// filter would block in the command's own process tree.
func (b *LinuxBuilder) innerCommand(spec LinuxWrapSpec, seccompFilterPath string) (string, error) {
	runUnderSeccomp := func(command string) (string, error) {
		applyBinary := b.Seccomp.ApplyBinaryPath()
		if applyBinary == "" {
			return "", fmt.Errorf("seccomp filter present but apply binary missing from vendor tree")
		}
		parts := []string{applyBinary, seccompFilterPath, b.Shell, "-c", command}
		quoted := make([]string, len(parts))
		for i, part := range parts {
			quoted[i] = shellQuote(part)
		}
		return strings.Join(quoted, " "), nil
	}

	if !spec.NeedsNetworkRestriction {
		if seccompFilterPath == "" {
			return spec.Command, nil
		}
		return runUnderSeccomp(spec.Command)
	}

	lines := []string{
		fmt.Sprintf("%s TCP-LISTEN:%d,fork,reuseaddr UNIX-CONNECT:%s >/dev/null 2>&1 &",
			b.SocatPath, insideHTTPPort, spec.HTTPSocketPath),
		fmt.Sprintf("%s TCP-LISTEN:%d,fork,reuseaddr UNIX-CONNECT:%s >/dev/null 2>&1 &",
			b.SocatPath, insideSocksPort, spec.SocksSocketPath),
		`trap "kill %1 %2 2>/dev/null; exit" EXIT`,
	}

	if seccompFilterPath != "" {
		seccompLine, err := runUnderSeccomp(spec.Command)
		if err != nil {
			return "", err
		}
		lines = append(lines, seccompLine)
	} else {
		lines = append(lines, "eval "+shellQuote(spec.Command))
	}

	script := strings.Join(lines, "\n")
	return fmt.Sprintf("%s -c %s", b.Shell, shellQuote(script)), nil
}

func (b *LinuxBuilder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
