// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"github.com/enclave-foundation/enclave/lib/ripgrep"
)

// Policy is the full restriction policy for one sandbox session. It is
// treated as immutable once handed to the manager; Reset and re-Initialize
// are the only way to change the active policy.
type Policy struct {
	// Network declares the network restrictions.
	Network NetworkPolicy `json:"network"`

	// Filesystem declares the filesystem restrictions.
	Filesystem FilesystemPolicy `json:"filesystem"`

	// IgnoreViolations suppresses known false-positive denial reports:
	// each key is a command substring pattern ("*" for any command), each
	// value the list of path substrings to ignore for that pattern.
	IgnoreViolations map[string][]string `json:"ignoreViolations,omitempty"`

	// EnableWeakerNestedSandbox relaxes the PID-namespace /proc remount.
	// Needed when the runtime itself is already containerized and a fresh
	// /proc mount would fail.
	EnableWeakerNestedSandbox bool `json:"enableWeakerNestedSandbox,omitempty"`

	// Ripgrep overrides the file-search tool used for protective
	// deny-path discovery. Nil means the standard "rg" binary.
	Ripgrep *ripgrep.Config `json:"ripgrep,omitempty"`
}

// NetworkPolicy declares which network peers a confined command may reach.
type NetworkPolicy struct {
	// AllowedDomains lists the domain patterns a confined command may
	// connect to (e.g. "github.com", "*.npmjs.org"). An empty list with
	// network restriction active means deny-all.
	AllowedDomains []string `json:"allowedDomains"`

	// DeniedDomains lists domain patterns that are always refused.
	// Deny entries override allow entries.
	DeniedDomains []string `json:"deniedDomains"`

	// AllowUnixSockets lists Unix socket paths permitted inside the
	// sandbox (macOS only; Linux seccomp cannot filter by path).
	// Nil means no sockets are individually allowed.
	AllowUnixSockets []string `json:"allowUnixSockets,omitempty"`

	// AllowAllUnixSockets disables Unix socket blocking entirely.
	AllowAllUnixSockets bool `json:"allowAllUnixSockets,omitempty"`

	// AllowLocalBinding permits binding and connecting to localhost
	// ports inside the sandbox.
	AllowLocalBinding bool `json:"allowLocalBinding,omitempty"`

	// HTTPProxyPort, when nonzero, names an externally managed HTTP
	// proxy to use instead of starting a local one.
	HTTPProxyPort int `json:"httpProxyPort,omitempty"`

	// SocksProxyPort, when nonzero, names an externally managed SOCKS5
	// proxy to use instead of starting a local one.
	SocksProxyPort int `json:"socksProxyPort,omitempty"`
}

// FilesystemPolicy declares path restrictions. Deny lists always take
// precedence over allow lists.
type FilesystemPolicy struct {
	// DenyRead lists paths the confined command must not read.
	DenyRead []string `json:"denyRead"`

	// AllowRead lists paths the confined command may read.
	AllowRead []string `json:"allowRead"`

	// AllowWrite lists paths the confined command may write. An empty
	// (but present) list means zero write access, not "unrestricted".
	AllowWrite []string `json:"allowWrite"`

	// DenyWrite lists paths that must stay read-only even when nested
	// inside an AllowWrite path.
	DenyWrite []string `json:"denyWrite"`
}

// NeedsNetworkRestriction reports whether the policy asks for network
// confinement: any allowed domain implies the proxy/namespace machinery.
func (p *Policy) NeedsNetworkRestriction() bool {
	return len(p.Network.AllowedDomains) > 0
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	clone := &Policy{
		Network:                   p.Network,
		Filesystem:                p.Filesystem,
		EnableWeakerNestedSandbox: p.EnableWeakerNestedSandbox,
	}

	clone.Network.AllowedDomains = cloneStrings(p.Network.AllowedDomains)
	clone.Network.DeniedDomains = cloneStrings(p.Network.DeniedDomains)
	clone.Network.AllowUnixSockets = cloneStrings(p.Network.AllowUnixSockets)
	clone.Filesystem.DenyRead = cloneStrings(p.Filesystem.DenyRead)
	clone.Filesystem.AllowRead = cloneStrings(p.Filesystem.AllowRead)
	clone.Filesystem.AllowWrite = cloneStrings(p.Filesystem.AllowWrite)
	clone.Filesystem.DenyWrite = cloneStrings(p.Filesystem.DenyWrite)

	if p.IgnoreViolations != nil {
		clone.IgnoreViolations = make(map[string][]string, len(p.IgnoreViolations))
		for pattern, paths := range p.IgnoreViolations {
			clone.IgnoreViolations[pattern] = cloneStrings(paths)
		}
	}
	if p.Ripgrep != nil {
		ripgrepCopy := *p.Ripgrep
		ripgrepCopy.Args = cloneStrings(p.Ripgrep.Args)
		clone.Ripgrep = &ripgrepCopy
	}
	return clone
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
