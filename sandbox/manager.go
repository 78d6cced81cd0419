// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/enclave-foundation/enclave/bridge"
	"github.com/enclave-foundation/enclave/lib/config"
	"github.com/enclave-foundation/enclave/lib/platform"
	"github.com/enclave-foundation/enclave/lib/ripgrep"
	"github.com/enclave-foundation/enclave/policy"
	"github.com/enclave-foundation/enclave/proxy"
)

// Hooks are optional lifecycle callbacks, invoked outside the manager's
// lock.
type Hooks struct {
	// OnInitialize runs after a successful Initialize with the active
	// policy.
	OnInitialize func(*policy.Policy)

	// OnReset runs after Reset tears the session down.
	OnReset func()
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Runtime names the external tools and shell. Zero value means the
	// built-in defaults.
	Runtime config.Runtime

	// Platform overrides platform detection, for tests. Zero means
	// detect.
	Platform platform.Platform

	// SocketDir is where bridge sockets are created (Linux). Empty means
	// the system temporary directory.
	SocketDir string

	Hooks  Hooks
	Logger *slog.Logger
}

// Manager owns one sandbox session: the active policy, the filtering
// proxies, the Linux bridge, and the violation store. Initialize starts
// the machinery, WrapWithSandbox confines individual commands against it,
// and Reset tears it down.
type Manager struct {
	runtime   config.Runtime
	os        platform.Platform
	socketDir string
	hooks     Hooks
	logger    *slog.Logger

	store *ViolationStore

	mu          sync.Mutex
	policy      *policy.Policy
	fingerprint string

	httpProxy  *proxy.HTTPProxy
	socksProxy *proxy.SocksProxy
	// externalHTTPPort and externalSocksPort are nonzero when the policy
	// points at externally managed proxies instead of ours.
	externalHTTPPort  int
	externalSocksPort int

	bridgePair *bridge.Pair
	monitor    *ViolationMonitor
}

// NewManager returns an uninitialized manager.
func NewManager(managerConfig ManagerConfig) *Manager {
	runtime := managerConfig.Runtime
	if runtime.Tools.Bwrap == "" && runtime.Tools.Socat == "" && runtime.Tools.Ripgrep.Command == "" {
		runtime = config.Default()
	}
	detected := managerConfig.Platform
	if detected == "" {
		detected = platform.Detect()
	}
	logger := managerConfig.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runtime:   runtime,
		os:        detected,
		socketDir: managerConfig.SocketDir,
		hooks:     managerConfig.Hooks,
		logger:    logger,
		store:     NewViolationStore(defaultViolationTail),
	}
}

// Store returns the manager's violation store.
func (m *Manager) Store() *ViolationStore {
	return m.store
}

// Initialize validates the policy and starts the session machinery:
// filtering proxies and, on Linux, the socket bridge. Initializing again
// with a policy whose fingerprint matches the active one is a no-op;
// initializing with a different policy is an error until Reset is called.
// Any startup failure rolls everything back.
func (m *Manager) Initialize(ctx context.Context, p *policy.Policy) error {
	if p == nil {
		return fmt.Errorf("initialize requires a policy")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if !m.os.Supported() {
		return fmt.Errorf("platform %s has no sandbox backend", m.os)
	}
	if err := m.CheckDependencies(); err != nil {
		return err
	}
	if m.os == platform.Linux && !p.Network.AllowAllUnixSockets && !m.seccompProvider().Available() {
		return fmt.Errorf("seccomp artifacts unavailable for this architecture: unix socket blocking cannot be enforced (set allowAllUnixSockets to run without it)")
	}

	fingerprint, err := p.Fingerprint()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.policy != nil {
		if m.fingerprint == fingerprint {
			m.logger.Debug("sandbox already initialized with identical policy")
			return nil
		}
		return fmt.Errorf("sandbox already initialized with a different policy; reset first")
	}

	if p.NeedsNetworkRestriction() {
		if err := m.startNetworkLocked(ctx, p); err != nil {
			m.rollbackLocked()
			return err
		}
	}

	if m.os == platform.MacOS {
		monitor, err := NewViolationMonitor(m.store, p.IgnoreViolations, m.logger)
		if err != nil {
			// Confinement holds without the monitor; only reporting is
			// lost.
			m.logger.Warn("violation monitor unavailable", "error", err)
		} else {
			m.monitor = monitor
		}
	}

	m.policy = p.Clone()
	m.fingerprint = fingerprint
	m.logger.Info("sandbox initialized",
		"network", p.NeedsNetworkRestriction(),
		"platform", m.os,
	)

	if m.hooks.OnInitialize != nil {
		active := m.policy
		go m.hooks.OnInitialize(active)
	}
	return nil
}

// startNetworkLocked brings up the proxies and, on Linux, the bridge.
// Partially started components are left for rollbackLocked to reap.
func (m *Manager) startNetworkLocked(ctx context.Context, p *policy.Policy) error {
	filter := &proxy.RuleFilter{
		Allowed: p.Network.AllowedDomains,
		Denied:  p.Network.DeniedDomains,
		OnDenied: func(host string) {
			m.store.Add(ViolationEvent{
				Line:      fmt.Sprintf("network: connection to %s blocked by allowlist", host),
				Timestamp: time.Now(),
			})
		},
	}

	// Each proxy role is independent: a nonzero policy port names an
	// externally managed proxy for that role, otherwise a local one is
	// started.
	httpPort := p.Network.HTTPProxyPort
	if httpPort != 0 {
		m.externalHTTPPort = httpPort
		m.logger.Debug("using external http proxy", "port", httpPort)
	} else {
		httpProxy, err := proxy.NewHTTPProxy(proxy.HTTPProxyConfig{Filter: filter, Logger: m.logger})
		if err != nil {
			return err
		}
		if err := httpProxy.Start(); err != nil {
			return fmt.Errorf("starting http proxy: %w", err)
		}
		m.httpProxy = httpProxy
		httpPort = httpProxy.Port()
	}

	socksPort := p.Network.SocksProxyPort
	if socksPort != 0 {
		m.externalSocksPort = socksPort
		m.logger.Debug("using external socks proxy", "port", socksPort)
	} else {
		socksProxy, err := proxy.NewSocksProxy(proxy.SocksProxyConfig{Filter: filter, Logger: m.logger})
		if err != nil {
			return err
		}
		if err := socksProxy.Start(); err != nil {
			return fmt.Errorf("starting socks proxy: %w", err)
		}
		m.socksProxy = socksProxy
		socksPort = socksProxy.Port()
	}

	if m.os == platform.Linux {
		pair, err := bridge.Start(ctx, bridge.Config{
			SocatPath:      m.runtime.Tools.Socat,
			HTTPProxyPort:  httpPort,
			SocksProxyPort: socksPort,
			SocketDir:      m.socketDir,
			Logger:         m.logger,
		})
		if err != nil {
			return fmt.Errorf("starting socket bridge: %w", err)
		}
		m.bridgePair = pair
	}
	return nil
}

// ProxyPort returns the HTTP proxy port of the active session, zero when
// no network restriction is active.
func (m *Manager) ProxyPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.externalHTTPPort != 0 {
		return m.externalHTTPPort
	}
	if m.httpProxy != nil {
		return m.httpProxy.Port()
	}
	return 0
}

// SocksProxyPort returns the SOCKS5 proxy port of the active session,
// zero when no network restriction is active.
func (m *Manager) SocksProxyPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.externalSocksPort != 0 {
		return m.externalSocksPort
	}
	if m.socksProxy != nil {
		return m.socksProxy.Port()
	}
	return 0
}

// WrapOptions adjusts a single WrapWithSandbox call.
type WrapOptions struct {
	// Shell overrides the configured shell for this command.
	Shell string

	// Overrides adjusts the session policy for this command only.
	Overrides *policy.Overrides
}

// WrapWithSandbox returns a shell command that runs command under the
// active policy's restrictions. When the manager is not initialized the
// command is returned unchanged: callers treat confinement as an overlay,
// not a precondition. The wrapped command is returned, never executed.
func (m *Manager) WrapWithSandbox(ctx context.Context, command string, opts WrapOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.policy == nil {
		return command, nil
	}

	merged := policy.Merge(m.policy, opts.Overrides)
	shell := opts.Shell
	if shell == "" {
		shell = m.runtime.Shell
	}

	read, write := m.restrictionsLocked(merged)

	switch m.os {
	case platform.Linux:
		builder := &LinuxBuilder{
			BwrapPath: m.runtime.Tools.Bwrap,
			SocatPath: m.runtime.Tools.Socat,
			Shell:     shell,
			Seccomp:   m.seccompProvider(),
			Ripgrep:   m.ripgrepConfig(merged),
			Logger:    m.logger,
		}
		spec := LinuxWrapSpec{
			Command:                   command,
			NeedsNetworkRestriction:   merged.NeedsNetworkRestriction(),
			HostHTTPProxyPort:         m.proxyPortLocked(),
			HostSocksProxyPort:        m.socksPortLocked(),
			Read:                      read,
			Write:                     write,
			EnableWeakerNestedSandbox: merged.EnableWeakerNestedSandbox,
			AllowAllUnixSockets:       merged.Network.AllowAllUnixSockets,
		}
		if m.bridgePair != nil {
			spec.HTTPSocketPath = m.bridgePair.HTTPSocketPath()
			spec.SocksSocketPath = m.bridgePair.SocksSocketPath()
		}
		return builder.Wrap(ctx, spec)

	case platform.MacOS:
		builder := &MacOSBuilder{
			Shell:   shell,
			Ripgrep: m.ripgrepConfig(merged),
			Logger:  m.logger,
		}
		spec := MacOSWrapSpec{
			Command:                 command,
			NeedsNetworkRestriction: merged.NeedsNetworkRestriction(),
			HTTPProxyPort:           m.proxyPortLocked(),
			SocksProxyPort:          m.socksPortLocked(),
			Read:                    read,
			Write:                   write,
			AllowUnixSockets:        merged.Network.AllowUnixSockets,
			AllowAllUnixSockets:     merged.Network.AllowAllUnixSockets,
			AllowLocalBinding:       merged.Network.AllowLocalBinding,
		}
		return builder.Wrap(ctx, spec)
	}
	return "", fmt.Errorf("platform %s has no sandbox backend", m.os)
}

// restrictionsLocked translates the merged policy's filesystem lists into
// builder restrictions. On Linux, glob patterns that bind mounts cannot
// express are reduced (trailing /** suffixes) or dropped with a warning.
func (m *Manager) restrictionsLocked(merged *policy.Policy) (*ReadRestriction, *WriteRestriction) {
	denyRead := merged.Filesystem.DenyRead
	allowWrite := merged.Filesystem.AllowWrite
	denyWrite := merged.Filesystem.DenyWrite

	if m.os == platform.Linux {
		denyRead = m.usablePathsLocked(denyRead)
		denyWrite = m.usablePathsLocked(denyWrite)
		if allowWrite != nil {
			filtered := m.usablePathsLocked(allowWrite)
			if filtered == nil {
				filtered = []string{}
			}
			allowWrite = filtered
		}
	}

	var read *ReadRestriction
	if len(denyRead) > 0 {
		read = &ReadRestriction{Deny: denyRead}
	}

	var write *WriteRestriction
	if allowWrite != nil {
		write = &WriteRestriction{
			Allow: append(DefaultWritePaths(), allowWrite...),
			Deny:  denyWrite,
		}
	}
	return read, write
}

// usablePathsLocked strips trailing recursive-glob suffixes (a bind mount
// of the directory covers them) and drops patterns that still contain
// glob characters, which bind mounts cannot express.
func (m *Manager) usablePathsLocked(patterns []string) []string {
	var usable []string
	for _, pattern := range patterns {
		reduced := RemoveTrailingGlobSuffix(pattern)
		if ContainsGlobChars(reduced) {
			m.logger.Warn("dropping glob pattern unsupported on linux", "pattern", pattern)
			continue
		}
		usable = append(usable, reduced)
	}
	return usable
}

// GlobPatternWarnings lists the filesystem patterns of a policy that
// Linux confinement cannot enforce and will drop.
func (m *Manager) GlobPatternWarnings(p *policy.Policy) []string {
	if m.os != platform.Linux {
		return nil
	}
	var warnings []string
	lists := [][]string{p.Filesystem.DenyRead, p.Filesystem.AllowWrite, p.Filesystem.DenyWrite}
	for _, list := range lists {
		for _, pattern := range list {
			if ContainsGlobChars(RemoveTrailingGlobSuffix(pattern)) {
				warnings = append(warnings, fmt.Sprintf("glob pattern %q is not enforced on linux", pattern))
			}
		}
	}
	return warnings
}

func (m *Manager) proxyPortLocked() int {
	if m.externalHTTPPort != 0 {
		return m.externalHTTPPort
	}
	if m.httpProxy != nil {
		return m.httpProxy.Port()
	}
	return 0
}

func (m *Manager) socksPortLocked() int {
	if m.externalSocksPort != 0 {
		return m.externalSocksPort
	}
	if m.socksProxy != nil {
		return m.socksProxy.Port()
	}
	return 0
}

func (m *Manager) seccompProvider() *SeccompProvider {
	vendorDir := m.runtime.SeccompVendorDir
	if vendorDir == "" {
		if executable, err := os.Executable(); err == nil {
			vendorDir = filepath.Join(filepath.Dir(executable), "vendor")
		}
	}
	return &SeccompProvider{VendorDir: vendorDir, Logger: m.logger}
}

func (m *Manager) ripgrepConfig(p *policy.Policy) ripgrep.Config {
	if p.Ripgrep != nil {
		return *p.Ripgrep
	}
	return m.runtime.Tools.Ripgrep
}

// Reset tears the session down: monitor, bridge, proxies. The violation
// tail is cleared but the monotonic total survives. Safe to call on an
// uninitialized manager.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.rollbackLocked()
	m.policy = nil
	m.fingerprint = ""
	m.mu.Unlock()

	m.store.Clear()
	m.logger.Debug("sandbox reset")
	if m.hooks.OnReset != nil {
		m.hooks.OnReset()
	}
}

// rollbackLocked stops everything startNetworkLocked and Initialize may
// have started, in reverse order.
func (m *Manager) rollbackLocked() {
	if m.monitor != nil {
		m.monitor.Shutdown()
		m.monitor = nil
	}
	if m.bridgePair != nil {
		m.bridgePair.Stop()
		m.bridgePair = nil
	}
	if m.socksProxy != nil {
		m.socksProxy.Close()
		m.socksProxy = nil
	}
	if m.httpProxy != nil {
		m.httpProxy.Close()
		m.httpProxy = nil
	}
	m.externalHTTPPort = 0
	m.externalSocksPort = 0
}

// AnnotateStderr appends the command's recorded sandbox violations to its
// stderr output, so a caller relaying the output can see what confinement
// blocked. Returns stderr unchanged when nothing was recorded.
func (m *Manager) AnnotateStderr(command, stderr string) string {
	events := m.store.ForCommand(command)
	if len(events) == 0 {
		return stderr
	}
	var lines []string
	for _, event := range events {
		lines = append(lines, event.Line)
	}
	return stderr + "\n<sandbox_violations>\n" + strings.Join(lines, "\n") + "\n</sandbox_violations>"
}

// CheckDependencies verifies the external tools the current platform's
// backend needs are resolvable. All missing tools are reported together.
func (m *Manager) CheckDependencies() error {
	var missing []error

	check := func(name, command string) {
		if command == "" {
			missing = append(missing, fmt.Errorf("%s: not configured", name))
			return
		}
		if _, err := exec.LookPath(command); err != nil {
			missing = append(missing, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch m.os {
	case platform.Linux:
		check("bubblewrap", m.runtime.Tools.Bwrap)
		check("socat", m.runtime.Tools.Socat)
	case platform.MacOS:
		check("sandbox-exec", "sandbox-exec")
	default:
		return fmt.Errorf("platform %s has no sandbox backend", m.os)
	}

	if !m.runtime.Tools.Ripgrep.Available() {
		missing = append(missing, fmt.Errorf("ripgrep: %q not found", m.runtime.Tools.Ripgrep.Command))
	}
	return errors.Join(missing...)
}
