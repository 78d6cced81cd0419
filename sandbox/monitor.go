// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Violation monitoring on macOS rides on the unified log: every Seatbelt
// rule we emit carries a session-scoped message tag, and `log stream`
// surfaces each denial as it happens.

var commandTagPattern = regexp.MustCompile(`CMD64_([A-Za-z0-9+/=]*)_END_`)

// monitorNoiseSources are system daemons whose sandbox chatter is not
// ours even when it matches the session suffix.
var monitorNoiseSources = []string{"mDNSResponder", "diagnosticd", "analyticsd"}

// ViolationMonitor streams sandbox denials for this session from the
// unified log into a ViolationStore.
type ViolationMonitor struct {
	store  *ViolationStore
	logger *slog.Logger

	// ignorePatterns maps command glob patterns to violation-line glob
	// patterns that should be dropped instead of recorded.
	ignorePatterns map[string][]string

	mu      sync.Mutex
	process *exec.Cmd
	done    chan struct{}
}

// NewViolationMonitor starts `log stream` filtered to this session's tag
// suffix and feeds matching denials into store. ignorePatterns maps
// command patterns ("*" for any command) to violation message patterns
// to suppress.
func NewViolationMonitor(store *ViolationStore, ignorePatterns map[string][]string, logger *slog.Logger) (*ViolationMonitor, error) {
	if store == nil {
		return nil, fmt.Errorf("violation monitor requires a store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	predicate := fmt.Sprintf("eventMessage ENDSWITH %q", sessionSuffix)
	process := exec.Command("log", "stream", "--predicate", predicate, "--style", "compact")
	stdout, err := process.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating log stream pipe: %w", err)
	}
	if err := process.Start(); err != nil {
		return nil, fmt.Errorf("starting log stream: %w", err)
	}

	monitor := &ViolationMonitor{
		store:          store,
		logger:         logger,
		ignorePatterns: ignorePatterns,
		process:        process,
		done:           make(chan struct{}),
	}

	go func() {
		defer close(monitor.done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			monitor.consume(scanner.Text())
		}
	}()

	logger.Debug("violation monitor started", "suffix", sessionSuffix)
	return monitor, nil
}

func (m *ViolationMonitor) consume(line string) {
	if !strings.Contains(line, "Sandbox:") || !strings.Contains(line, "deny") {
		return
	}
	for _, source := range monitorNoiseSources {
		if strings.Contains(line, source) {
			return
		}
	}

	event := ViolationEvent{
		Line:      line,
		Timestamp: time.Now(),
	}
	if match := commandTagPattern.FindStringSubmatch(line); match != nil {
		event.EncodedCommand = match[1]
		if decoded, err := DecodeCommand(match[1]); err == nil {
			event.Command = decoded
		}
	}

	if m.shouldIgnore(event) {
		return
	}

	m.logger.Debug("sandbox violation", "line", line)
	m.store.Add(event)
}

func (m *ViolationMonitor) shouldIgnore(event ViolationEvent) bool {
	for commandPattern, linePatterns := range m.ignorePatterns {
		if commandPattern != "*" && !globMatch(commandPattern, event.Command) {
			continue
		}
		for _, linePattern := range linePatterns {
			if globMatch(linePattern, event.Line) {
				return true
			}
		}
	}
	return false
}

// globMatch applies fnmatch-style wildcards: * matches anything
// including path separators, ? matches one character. A pattern without
// wildcards matches as a substring, since violation patterns are usually
// written unanchored.
func globMatch(pattern, value string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return strings.Contains(value, pattern)
	}
	var expr strings.Builder
	expr.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '*':
			expr.WriteString(".*")
		case '?':
			expr.WriteString(".")
		default:
			expr.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	expr.WriteString("$")
	matched, err := regexp.MatchString(expr.String(), value)
	return err == nil && matched
}

// Shutdown terminates the log stream process. Safe to call more than
// once.
func (m *ViolationMonitor) Shutdown() {
	m.mu.Lock()
	process := m.process
	m.process = nil
	m.mu.Unlock()
	if process == nil {
		return
	}

	if err := process.Process.Signal(syscall.SIGTERM); err == nil {
		select {
		case <-m.done:
		case <-time.After(2 * time.Second):
			process.Process.Kill()
			<-m.done
		}
	} else {
		process.Process.Kill()
	}
	process.Wait()
	m.logger.Debug("violation monitor stopped")
}
