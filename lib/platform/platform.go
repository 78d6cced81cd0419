// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package platform identifies the host operating system so the sandbox
// runtime can select a confinement strategy. Detection happens once at
// startup; the resulting [Platform] value is threaded through explicitly
// rather than re-detected at every call site.
package platform

import "runtime"

// Platform identifies a host operating system family.
type Platform string

const (
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	Windows Platform = "windows"
	Unknown Platform = "unknown"
)

// Detect returns the platform the current process is running on.
func Detect() Platform {
	switch runtime.GOOS {
	case "darwin":
		return MacOS
	case "linux":
		return Linux
	case "windows":
		return Windows
	default:
		return Unknown
	}
}

// Supported reports whether the platform has a confinement backend.
// Only macOS (Seatbelt) and Linux (bubblewrap) are supported.
func (p Platform) Supported() bool {
	return p == MacOS || p == Linux
}
