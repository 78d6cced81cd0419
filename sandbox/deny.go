// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/enclave-foundation/enclave/lib/ripgrep"
)

// DangerousFiles are filenames that grant code execution or configuration
// takeover when written: shell rc files, git configuration, tool hooks.
// They are denied within every allowed write area regardless of policy.
var DangerousFiles = []string{
	".gitconfig",
	".gitmodules",
	".bashrc",
	".bash_profile",
	".zshrc",
	".zprofile",
	".profile",
	".ripgreprc",
	".mcp.json",
}

// DangerousDirectories are directory names whose contents can redirect
// tooling (editor tasks, runtime commands). .git is handled separately:
// it must stay writable for normal git operations, so only .git/hooks and
// .git/config are denied.
var DangerousDirectories = []string{
	".vscode",
	".idea",
	".enclave/commands",
	".enclave/agents",
}

// ripgrepFileListArgs are the shared flags for discovery scans: list file
// paths, include hidden files, skip dependency trees.
func ripgrepFileListArgs(globPattern string) []string {
	return []string{"--files", "--hidden", "--iglob", globPattern, "-g", "!**/node_modules/**"}
}

// MandatoryDenyPaths scans the working directory for files and directories
// that must never be writable and returns their absolute paths, deduplicated.
// Candidate paths are included even when the file does not exist yet, so a
// sandboxed command cannot create them either. Any scan failure is returned
// as an error: a partial list would under-protect.
func MandatoryDenyPaths(ctx context.Context, config ripgrep.Config) ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}

	seen := make(map[string]struct{})
	var denyPaths []string
	add := func(path string) {
		if _, dup := seen[path]; !dup {
			seen[path] = struct{}{}
			denyPaths = append(denyPaths, path)
		}
	}

	// Runtime settings are always protected, in the home directory and in
	// the working tree.
	add(filepath.Join(home, ".enclave", "settings.json"))
	add(filepath.Join(cwd, ".enclave", "settings.json"))
	add(filepath.Join(cwd, ".enclave", "settings.local.json"))

	for _, fileName := range DangerousFiles {
		// The path directly under cwd is denied even if absent.
		add(filepath.Join(cwd, fileName))

		matches, err := ripgrep.Run(ctx, config, ripgrepFileListArgs(fileName), cwd)
		if err != nil {
			return nil, fmt.Errorf("scanning for dangerous file %q: %w", fileName, err)
		}
		for _, match := range matches {
			add(absoluteMatch(cwd, match))
		}
	}

	for _, dirName := range DangerousDirectories {
		add(filepath.Join(cwd, dirName))

		pattern := fmt.Sprintf("**/%s/**", dirName)
		matches, err := ripgrep.Run(ctx, config, ripgrepFileListArgs(pattern), cwd)
		if err != nil {
			return nil, fmt.Errorf("scanning for dangerous directory %q: %w", dirName, err)
		}
		for _, match := range matches {
			if dirPath, ok := containingDangerousDirectory(absoluteMatch(cwd, match), dirName); ok {
				add(dirPath)
			}
		}
	}

	// .git stays writable, but its code-execution surfaces do not.
	add(filepath.Join(cwd, ".git", "hooks"))
	add(filepath.Join(cwd, ".git", "config"))

	// Nested repositories: find each .git by its HEAD file and deny that
	// repository's hooks and config too.
	heads, err := ripgrep.Run(ctx, config, ripgrepFileListArgs("**/.git/HEAD"), cwd)
	if err != nil {
		return nil, fmt.Errorf("scanning for nested git repositories: %w", err)
	}
	for _, head := range heads {
		gitDir := filepath.Dir(absoluteMatch(cwd, head))
		add(filepath.Join(gitDir, "hooks"))
		add(filepath.Join(gitDir, "config"))
	}

	return denyPaths, nil
}

// absoluteMatch anchors a scan result at the scan root. The tool reports
// paths relative to its target directory.
func absoluteMatch(root, match string) string {
	if filepath.IsAbs(match) {
		return match
	}
	return filepath.Join(root, match)
}

// containingDangerousDirectory truncates a matched file path at the named
// directory, case-insensitively, returning the directory path itself.
// dirName may contain a separator (".enclave/commands").
func containingDangerousDirectory(path, dirName string) (string, bool) {
	wantSegments := strings.Split(dirName, string(filepath.Separator))
	segments := strings.Split(path, string(filepath.Separator))

	for i := 0; i+len(wantSegments) <= len(segments); i++ {
		matched := true
		for j, want := range wantSegments {
			if !strings.EqualFold(segments[i+j], want) {
				matched = false
				break
			}
		}
		if matched {
			end := i + len(wantSegments)
			return strings.Join(segments[:end], string(filepath.Separator)), true
		}
	}
	return "", false
}

// isWithin reports whether path equals base or lives under it.
func isWithin(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+"/")
}
