// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox turns shell commands into OS-confined shell commands.
//
// The package does not execute anything. [Manager.WrapWithSandbox] takes a
// command string and returns a new command string that, when run by the
// caller's usual process machinery, executes the original command under
// OS-enforced restriction: bubblewrap namespaces on Linux, sandbox-exec
// Seatbelt profiles on macOS.
//
// [Manager] owns the session state: the active policy, the filtering
// proxies (package proxy), the Linux bridge forwarders (package bridge),
// the macOS violation monitor, and the violation store. Initialize starts
// the network side once per policy; initializing again with a policy whose
// fingerprint matches is a no-op, and Reset tears everything down.
//
// Confinement is fail-closed throughout. Restriction levels compose: a
// policy with only network rules still gets Unix socket blocking, a policy
// with an empty allowWrite list produces a sandbox with no write access at
// all, and the mandatory deny scan refusing to run aborts wrapping rather
// than producing a weaker sandbox.
package sandbox
