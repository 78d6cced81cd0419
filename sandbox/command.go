// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"encoding/base64"
	"strings"
)

// commandEncodePrefix bounds how much of a command travels inside log
// tags. 100 characters is enough to correlate a violation with its
// command without bloating every Seatbelt rule.
const commandEncodePrefix = 100

// EncodeCommand truncates a command to its identifying prefix and base64
// encodes it, so it can ride inside log messages without quoting issues.
func EncodeCommand(command string) string {
	truncated := command
	if len(truncated) > commandEncodePrefix {
		truncated = truncated[:commandEncodePrefix]
	}
	return base64.StdEncoding.EncodeToString([]byte(truncated))
}

// DecodeCommand reverses EncodeCommand. The result is the truncated
// prefix, not necessarily the full original command.
func DecodeCommand(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// shellQuote single-quotes a string for POSIX shells, the same way
// Python's shlex.quote does: safe strings pass through, everything else
// is wrapped in single quotes with embedded quotes spliced out.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '@', r == '%', r == '+', r == '=', r == ':',
			r == ',', r == '.', r == '/', r == '-':
		default:
			return false
		}
	}
	return true
}
