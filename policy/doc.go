// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy defines the declarative restriction policy that drives the
// sandbox: which network peers a confined command may reach, which
// filesystem paths it may read and write, and the knobs that soften
// individual layers (Unix socket blocking, local binding, nested sandbox
// mode).
//
// Policies arrive as JSON documents with camelCase keys (JSONC accepted:
// comments and trailing commas are stripped before decoding). Validation is
// strict and fail-closed: a malformed domain pattern or an empty path entry
// rejects the whole document at load time rather than being silently
// ignored. Path strings are deliberately not normalized here — tilde and
// symlink resolution happen at command-build time, against the host the
// command will actually run on.
//
// [Policy.Fingerprint] provides deep equality over the full policy (the
// basis for idempotent manager initialization), and [Merge] applies
// per-call overrides field by field over a base policy.
package policy
