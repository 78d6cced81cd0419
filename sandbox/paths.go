// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ContainsGlobChars reports whether a path pattern has glob metacharacters.
func ContainsGlobChars(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]")
}

var trailingGlobSuffix = regexp.MustCompile(`/\*\*$`)

// RemoveTrailingGlobSuffix strips a trailing /** from a pattern. A pattern
// like /home/user/** means the subtree rooted at /home/user, which subpath
// mounts express without any glob machinery.
func RemoveTrailingGlobSuffix(pattern string) string {
	return trailingGlobSuffix.ReplaceAllString(pattern, "")
}

var globSplit = regexp.MustCompile(`[*?\[\]]`)

// staticGlobPrefix returns the literal path portion before the first glob
// metacharacter.
func staticGlobPrefix(pattern string) string {
	return globSplit.Split(pattern, 2)[0]
}

// NormalizePath converts a policy path pattern into the absolute form used
// in sandbox rules: ~ expands to the home directory, relative paths are
// anchored at the working directory, and symlinks are resolved so rules
// bind the real path. For glob patterns only the static directory prefix
// is resolved; the wildcards survive untouched. Paths that do not exist
// are kept as normalized text, since deny rules may name files that will
// only be created inside the sandbox.
func NormalizePath(pattern string) string {
	normalized := pattern

	switch {
	case pattern == "~":
		if home, err := os.UserHomeDir(); err == nil {
			normalized = home
		}
	case strings.HasPrefix(pattern, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			normalized = filepath.Join(home, pattern[2:])
		}
	case !filepath.IsAbs(pattern):
		if cwd, err := os.Getwd(); err == nil {
			normalized = filepath.Join(cwd, pattern)
		}
	}

	if ContainsGlobChars(normalized) {
		prefix := staticGlobPrefix(normalized)
		if prefix == "" || prefix == "/" {
			return normalized
		}
		// Resolve the directory holding the glob, keep the pattern tail.
		baseDir := strings.TrimSuffix(prefix, "/")
		if !strings.HasSuffix(prefix, "/") {
			baseDir = filepath.Dir(prefix)
		}
		resolved, err := filepath.EvalSymlinks(baseDir)
		if err != nil {
			return normalized
		}
		return resolved + normalized[len(baseDir):]
	}

	if resolved, err := filepath.EvalSymlinks(normalized); err == nil {
		return resolved
	}
	return normalized
}

// DefaultWritePaths returns the system paths every sandboxed command needs
// writable to function: device sinks, the sandbox-private temp directory,
// and a few tool log locations. Broad by design for compatibility;
// security-sensitive deployments can tighten with denyWrite.
func DefaultWritePaths() []string {
	paths := []string{
		"/dev/stdout",
		"/dev/stderr",
		"/dev/null",
		"/dev/tty",
		"/dev/dtracehelper",
		"/dev/autofs_nowait",
		"/tmp/enclave",
		"/private/tmp/enclave",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".npm", "_logs"),
			filepath.Join(home, ".enclave", "debug"),
		)
	}
	return paths
}

// ancestorDirectories returns every ancestor of path up to but excluding
// the root, nearest first.
func ancestorDirectories(path string) []string {
	var ancestors []string
	current := filepath.Dir(path)
	for current != "/" && current != "." {
		ancestors = append(ancestors, current)
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return ancestors
}
