// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"testing"
)

func TestRuleFilterAllow(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		denied  []string
		host    string
		want    bool
	}{
		{
			name:    "exact match",
			allowed: []string{"example.com"},
			host:    "example.com",
			want:    true,
		},
		{
			name:    "exact match is case insensitive",
			allowed: []string{"Example.COM"},
			host:    "EXAMPLE.com",
			want:    true,
		},
		{
			name:    "exact does not match subdomain",
			allowed: []string{"example.com"},
			host:    "api.example.com",
			want:    false,
		},
		{
			name:    "wildcard matches subdomain",
			allowed: []string{"*.example.com"},
			host:    "api.example.com",
			want:    true,
		},
		{
			name:    "wildcard matches deep subdomain",
			allowed: []string{"*.example.com"},
			host:    "a.b.example.com",
			want:    true,
		},
		{
			name:    "wildcard does not match base domain",
			allowed: []string{"*.example.com"},
			host:    "example.com",
			want:    false,
		},
		{
			name:    "wildcard does not match suffix embedding",
			allowed: []string{"*.example.com"},
			host:    "evilexample.com",
			want:    false,
		},
		{
			name:    "empty allow list denies everything",
			allowed: nil,
			host:    "example.com",
			want:    false,
		},
		{
			name:    "deny overrides allow",
			allowed: []string{"example.com"},
			denied:  []string{"example.com"},
			host:    "example.com",
			want:    false,
		},
		{
			name:    "deny wildcard overrides allow wildcard",
			allowed: []string{"*.example.com"},
			denied:  []string{"*.example.com"},
			host:    "api.example.com",
			want:    false,
		},
		{
			name:    "deny of sibling does not affect match",
			allowed: []string{"example.com"},
			denied:  []string{"other.com"},
			host:    "example.com",
			want:    true,
		},
		{
			name:    "unlisted host denied",
			allowed: []string{"example.com"},
			host:    "other.com",
			want:    false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			filter := &RuleFilter{Allowed: test.allowed, Denied: test.denied}
			if got := filter.Allow(test.host); got != test.want {
				t.Errorf("Allow(%q) = %v, want %v", test.host, got, test.want)
			}
		})
	}
}

func TestRuleFilterOnDenied(t *testing.T) {
	var reported []string
	filter := &RuleFilter{
		Allowed:  []string{"example.com"},
		Denied:   []string{"blocked.com"},
		OnDenied: func(host string) { reported = append(reported, host) },
	}

	filter.Allow("example.com")
	filter.Allow("blocked.com")
	filter.Allow("unlisted.com")

	if len(reported) != 2 || reported[0] != "blocked.com" || reported[1] != "unlisted.com" {
		t.Errorf("reported = %v, want [blocked.com unlisted.com]", reported)
	}
}

func TestAllowAllFilter(t *testing.T) {
	filter := AllowAllFilter{}
	for _, host := range []string{"example.com", "anything.at.all", ""} {
		if !filter.Allow(host) {
			t.Errorf("Allow(%q) = false, want true", host)
		}
	}
}
