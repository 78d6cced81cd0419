// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Enclave-sandbox confines shell commands with OS-level sandboxing:
// bubblewrap on Linux, Seatbelt on macOS. It provides four subcommands:
// run (execute a command under a policy), wrap (print the confined
// command without executing it), check (verify external dependencies),
// and version.
package main
