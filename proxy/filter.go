// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"strings"
)

// Filter decides whether a sandboxed connection to a host may proceed.
type Filter interface {
	// Allow reports whether a connection to host (a bare hostname, no
	// port) is permitted.
	Allow(host string) bool
}

// RuleFilter checks hosts against allow and deny domain lists. Deny
// entries always win: a host matching both lists is refused. An empty
// allow list refuses everything.
type RuleFilter struct {
	// Allowed lists the permitted domain patterns, exact ("example.com")
	// or wildcard ("*.example.com"). A wildcard matches subdomains only;
	// the base domain needs its own exact entry.
	Allowed []string

	// Denied lists patterns that are always refused.
	Denied []string

	// OnDenied, when set, is called with the host for every refused
	// connection.
	OnDenied func(host string)
}

// Allow implements Filter with deny-over-allow semantics.
func (f *RuleFilter) Allow(host string) bool {
	for _, pattern := range f.Denied {
		if matchDomain(pattern, host) {
			f.denied(host)
			return false
		}
	}
	for _, pattern := range f.Allowed {
		if matchDomain(pattern, host) {
			return true
		}
	}
	f.denied(host)
	return false
}

func (f *RuleFilter) denied(host string) {
	if f.OnDenied != nil {
		f.OnDenied(host)
	}
}

// matchDomain reports whether host matches pattern. Matching is
// case-insensitive. "*.example.com" matches any subdomain of example.com
// but not example.com itself; an exact pattern matches only itself.
func matchDomain(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)

	if base, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+base)
	}
	return host == pattern
}

// AllowAllFilter permits every connection. Used when network restriction
// is configured with an external proxy that does its own filtering.
type AllowAllFilter struct{}

// Allow always reports true.
func (AllowAllFilter) Allow(string) bool { return true }

var (
	_ Filter = (*RuleFilter)(nil)
	_ Filter = AllowAllFilter{}
)
