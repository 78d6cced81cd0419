// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Overrides carries per-call adjustments for a single wrap operation.
// Pointer fields distinguish "not specified" (inherit the base policy's
// value) from "specified as empty" (replace with an empty list).
type Overrides struct {
	Network    *NetworkOverrides    `json:"network,omitempty"`
	Filesystem *FilesystemOverrides `json:"filesystem,omitempty"`
}

// NetworkOverrides adjusts the network lists for one wrap call.
type NetworkOverrides struct {
	AllowedDomains *[]string `json:"allowedDomains,omitempty"`
	DeniedDomains  *[]string `json:"deniedDomains,omitempty"`
}

// FilesystemOverrides adjusts the filesystem lists for one wrap call.
type FilesystemOverrides struct {
	DenyRead   *[]string `json:"denyRead,omitempty"`
	AllowRead  *[]string `json:"allowRead,omitempty"`
	AllowWrite *[]string `json:"allowWrite,omitempty"`
	DenyWrite  *[]string `json:"denyWrite,omitempty"`
}

// Merge applies overrides field by field over a clone of base. Fields the
// override leaves nil inherit the base value; fields it sets replace the
// base value entirely, including replacement with an empty list.
func Merge(base *Policy, overrides *Overrides) *Policy {
	merged := base.Clone()
	if overrides == nil {
		return merged
	}

	if overrides.Network != nil {
		if overrides.Network.AllowedDomains != nil {
			merged.Network.AllowedDomains = cloneStrings(*overrides.Network.AllowedDomains)
		}
		if overrides.Network.DeniedDomains != nil {
			merged.Network.DeniedDomains = cloneStrings(*overrides.Network.DeniedDomains)
		}
	}
	if overrides.Filesystem != nil {
		if overrides.Filesystem.DenyRead != nil {
			merged.Filesystem.DenyRead = cloneStrings(*overrides.Filesystem.DenyRead)
		}
		if overrides.Filesystem.AllowRead != nil {
			merged.Filesystem.AllowRead = cloneStrings(*overrides.Filesystem.AllowRead)
		}
		if overrides.Filesystem.AllowWrite != nil {
			merged.Filesystem.AllowWrite = cloneStrings(*overrides.Filesystem.AllowWrite)
		}
		if overrides.Filesystem.DenyWrite != nil {
			merged.Filesystem.DenyWrite = cloneStrings(*overrides.Filesystem.DenyWrite)
		}
	}
	return merged
}

// Fingerprint returns a digest over the canonical JSON encoding of the
// full policy. Two policies are "the same configuration" for idempotent
// manager initialization exactly when their fingerprints match: deep
// equality over every field, not just the port fields.
func (p *Policy) Fingerprint() (string, error) {
	canonical, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding policy for fingerprint: %w", err)
	}
	sum := blake3.Sum256(canonical)
	return fmt.Sprintf("%x", sum), nil
}
