// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package ripgrep invokes a recursive file-search tool as a subprocess.
// The sandbox uses it to discover files that must be protected from writes
// (shell rc files, git hooks, editor settings) before a confinement command
// is built. Because a missed match silently under-protects, every failure
// mode here is a hard error: a timeout, a missing binary, or any exit code
// other than 0 (matches) and 1 (no matches) aborts the scan.
package ripgrep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Timeout bounds a single search invocation. A hung scan must fail closed
// rather than silently skip the protective deny paths it would have found.
const Timeout = 10 * time.Second

// Config selects the search tool binary. The zero value is not usable;
// call [Default] for the standard "rg" configuration.
type Config struct {
	// Command is the executable to invoke (e.g. "rg").
	Command string `json:"command" yaml:"command"`

	// Args are extra arguments inserted before the per-call arguments,
	// for wrappers that expose ripgrep behind a subcommand.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// Default returns the standard ripgrep configuration.
func Default() Config {
	return Config{Command: "rg"}
}

// Available reports whether the configured command can be found in PATH.
func (c Config) Available() bool {
	command := c.Command
	if command == "" {
		command = "rg"
	}
	_, err := exec.LookPath(command)
	return err == nil
}

// Run executes the search tool with the given arguments against target and
// returns the matching lines. Exit code 1 means "no matches" and yields an
// empty slice; any other nonzero exit, a missing binary, or exceeding
// [Timeout] returns an error.
func Run(ctx context.Context, config Config, args []string, target string) ([]string, error) {
	if config.Command == "" {
		config = Default()
	}

	commandArgs := make([]string, 0, len(config.Args)+len(args)+1)
	commandArgs = append(commandArgs, config.Args...)
	commandArgs = append(commandArgs, args...)
	commandArgs = append(commandArgs, target)

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	command := exec.CommandContext(ctx, config.Command, commandArgs...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("search timed out after %s", Timeout)
	}
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			// Exit code 1 is the tool's "no matches" signal, not an error.
			if exitError.ExitCode() == 1 {
				return nil, nil
			}
			return nil, fmt.Errorf("search failed with exit code %d: %s",
				exitError.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("search command %q: %w", config.Command, err)
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return nil, nil
	}

	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
