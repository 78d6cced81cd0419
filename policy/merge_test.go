// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"slices"
	"testing"
)

func basePolicy() *Policy {
	return &Policy{
		Network: NetworkPolicy{
			AllowedDomains: []string{"example.com"},
			DeniedDomains:  []string{"tracker.example.com"},
		},
		Filesystem: FilesystemPolicy{
			DenyRead:   []string{"~/.ssh"},
			AllowWrite: []string{"."},
		},
	}
}

func TestMergeNilOverridesInheritsEverything(t *testing.T) {
	base := basePolicy()
	merged := Merge(base, nil)

	if !slices.Equal(merged.Network.AllowedDomains, base.Network.AllowedDomains) {
		t.Errorf("AllowedDomains = %v", merged.Network.AllowedDomains)
	}
	if !slices.Equal(merged.Filesystem.AllowWrite, base.Filesystem.AllowWrite) {
		t.Errorf("AllowWrite = %v", merged.Filesystem.AllowWrite)
	}

	// The merged policy must be detached from the base.
	merged.Network.AllowedDomains[0] = "mutated.example.com"
	if base.Network.AllowedDomains[0] != "example.com" {
		t.Error("Merge() must deep-copy the base policy")
	}
}

func TestMergeReplacesSpecifiedFields(t *testing.T) {
	replacement := []string{"api.example.com", "*.npmjs.org"}
	merged := Merge(basePolicy(), &Overrides{
		Network: &NetworkOverrides{AllowedDomains: &replacement},
	})

	if !slices.Equal(merged.Network.AllowedDomains, replacement) {
		t.Errorf("AllowedDomains = %v, want %v", merged.Network.AllowedDomains, replacement)
	}
	// Unspecified fields inherit.
	if !slices.Equal(merged.Network.DeniedDomains, []string{"tracker.example.com"}) {
		t.Errorf("DeniedDomains = %v", merged.Network.DeniedDomains)
	}
	if !slices.Equal(merged.Filesystem.DenyRead, []string{"~/.ssh"}) {
		t.Errorf("DenyRead = %v", merged.Filesystem.DenyRead)
	}
}

func TestMergeEmptyListReplacesNotInherits(t *testing.T) {
	empty := []string{}
	merged := Merge(basePolicy(), &Overrides{
		Filesystem: &FilesystemOverrides{AllowWrite: &empty},
	})

	// An explicitly empty allowWrite means "no writes anywhere", which is
	// very different from inheriting the base list.
	if merged.Filesystem.AllowWrite == nil || len(merged.Filesystem.AllowWrite) != 0 {
		t.Errorf("AllowWrite = %v, want explicitly empty", merged.Filesystem.AllowWrite)
	}
}

func TestFingerprintDeepEquality(t *testing.T) {
	first, err := basePolicy().Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	second, err := basePolicy().Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("identical policies must fingerprint identically")
	}

	changed := basePolicy()
	changed.Filesystem.DenyRead = append(changed.Filesystem.DenyRead, "~/.aws")
	third, err := changed.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("differing policies must fingerprint differently")
	}
}

func TestCloneDetaches(t *testing.T) {
	base := basePolicy()
	base.IgnoreViolations = map[string][]string{"git": {"~/.gitconfig"}}
	clone := base.Clone()

	clone.Filesystem.DenyRead[0] = "/changed"
	clone.IgnoreViolations["git"][0] = "/changed"

	if base.Filesystem.DenyRead[0] != "~/.ssh" {
		t.Error("Clone() must copy filesystem lists")
	}
	if base.IgnoreViolations["git"][0] != "~/.gitconfig" {
		t.Error("Clone() must copy the ignore map")
	}
}
