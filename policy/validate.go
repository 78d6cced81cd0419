// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strings"
)

// ValidationError describes a rejected policy field. The policy is never
// partially applied: any validation error rejects the whole document.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateDomainPattern checks one domain pattern. Accepted shapes are the
// literal "localhost", a fully-qualified domain with at least one dot, or a
// wildcard of the form "*.domain.tld" with at least two labels after the
// wildcard. Anything else — protocol prefixes, paths, ports, bare or
// embedded wildcards — is rejected.
func ValidateDomainPattern(value string) error {
	// Reject protocols, paths, and ports outright.
	if strings.Contains(value, "://") || strings.Contains(value, "/") || strings.Contains(value, ":") {
		return &ValidationError{
			Field:  "domain pattern",
			Value:  value,
			Reason: "must not include protocols, paths, or ports",
		}
	}

	if value == "localhost" {
		return nil
	}

	if rest, ok := strings.CutPrefix(value, "*."); ok {
		// The remainder must itself be a multi-label domain: *.example.com
		// is fine, *.com is too broad.
		labels := strings.Split(rest, ".")
		if len(labels) < 2 {
			return &ValidationError{
				Field:  "domain pattern",
				Value:  value,
				Reason: "wildcard too broad: need at least 2 labels after the wildcard (e.g. *.example.com)",
			}
		}
		for _, label := range labels {
			if label == "" {
				return &ValidationError{
					Field:  "domain pattern",
					Value:  value,
					Reason: "wildcard domain has an empty label",
				}
			}
		}
		return nil
	}

	// Wildcards are only allowed as a leading "*." prefix.
	if strings.Contains(value, "*") {
		return &ValidationError{
			Field:  "domain pattern",
			Value:  value,
			Reason: "wildcards only allowed as *.example.com",
		}
	}

	if !strings.Contains(value, ".") || strings.HasPrefix(value, ".") || strings.HasSuffix(value, ".") {
		return &ValidationError{
			Field:  "domain pattern",
			Value:  value,
			Reason: "must be a valid domain (e.g. example.com) or wildcard (e.g. *.example.com)",
		}
	}

	return nil
}

// Validate checks the whole policy. Domain patterns in both network lists
// must be well formed, path lists must not contain empty entries, and
// external proxy ports must be in range. The first failure is returned.
func (p *Policy) Validate() error {
	for _, domain := range p.Network.AllowedDomains {
		if err := ValidateDomainPattern(domain); err != nil {
			return err
		}
	}
	for _, domain := range p.Network.DeniedDomains {
		if err := ValidateDomainPattern(domain); err != nil {
			return err
		}
	}

	pathLists := []struct {
		field string
		paths []string
	}{
		{"filesystem.denyRead", p.Filesystem.DenyRead},
		{"filesystem.allowRead", p.Filesystem.AllowRead},
		{"filesystem.allowWrite", p.Filesystem.AllowWrite},
		{"filesystem.denyWrite", p.Filesystem.DenyWrite},
		{"network.allowUnixSockets", p.Network.AllowUnixSockets},
	}
	for _, list := range pathLists {
		for _, path := range list.paths {
			if strings.TrimSpace(path) == "" {
				return &ValidationError{
					Field:  list.field,
					Reason: "path cannot be empty",
				}
			}
		}
	}

	if err := validatePort("network.httpProxyPort", p.Network.HTTPProxyPort); err != nil {
		return err
	}
	if err := validatePort("network.socksProxyPort", p.Network.SocksProxyPort); err != nil {
		return err
	}

	return nil
}

func validatePort(field string, port int) error {
	if port < 0 || port > 65535 {
		return &ValidationError{
			Field:  field,
			Value:  fmt.Sprintf("%d", port),
			Reason: "port must be between 1 and 65535",
		}
	}
	return nil
}
