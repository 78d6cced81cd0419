// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"testing"
)

func testMonitor(store *ViolationStore, ignore map[string][]string) *ViolationMonitor {
	return &ViolationMonitor{
		store:          store,
		logger:         slog.Default(),
		ignorePatterns: ignore,
	}
}

func denialLine(command, detail string) string {
	return fmt.Sprintf("kernel: Sandbox: deny(1) %s %s_END_%s", detail, "CMD64_"+EncodeCommand(command), sessionSuffix)
}

func TestMonitorRecordsDenials(t *testing.T) {
	store := NewViolationStore(10)
	monitor := testMonitor(store, nil)

	monitor.consume(denialLine("curl example.com", "file-write-data /etc/hosts"))

	events := store.Violations()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Command != "curl example.com" {
		t.Errorf("decoded command %q", events[0].Command)
	}
	if events[0].EncodedCommand != EncodeCommand("curl example.com") {
		t.Errorf("encoded command %q", events[0].EncodedCommand)
	}
}

func TestMonitorSkipsNonDenialLines(t *testing.T) {
	store := NewViolationStore(10)
	monitor := testMonitor(store, nil)

	monitor.consume("kernel: Sandbox: allow file-read-data /etc/hosts")
	monitor.consume("unrelated log chatter")

	if store.Count() != 0 {
		t.Errorf("recorded %d events from non-denial lines", store.Count())
	}
}

func TestMonitorFiltersSystemNoise(t *testing.T) {
	store := NewViolationStore(10)
	monitor := testMonitor(store, nil)

	monitor.consume("mDNSResponder: Sandbox: deny(1) network-outbound")
	monitor.consume("diagnosticd: Sandbox: deny(1) file-read-data /x")
	monitor.consume("analyticsd: Sandbox: deny(1) file-read-data /y")

	if store.Count() != 0 {
		t.Errorf("recorded %d events from system daemons", store.Count())
	}
}

func TestMonitorIgnorePatterns(t *testing.T) {
	store := NewViolationStore(10)
	monitor := testMonitor(store, map[string][]string{
		"*":     {"*file-read-data /usr/share/*"},
		"npm *": {"*network-outbound*"},
	})

	// Suppressed for every command.
	monitor.consume(denialLine("ls", "file-read-data /usr/share/terminfo/x"))
	// Suppressed only for matching commands.
	monitor.consume(denialLine("npm install", "network-outbound localhost:80"))
	// Same denial under a different command is recorded.
	monitor.consume(denialLine("curl example.com", "network-outbound localhost:80"))

	events := store.Violations()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0].Command != "curl example.com" {
		t.Errorf("recorded command %q", events[0].Command)
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern, value string
		want           bool
	}{
		{"npm *", "npm install", true},
		{"npm *", "curl x", false},
		{"*network*", "deny network-outbound", true},
		{"network", "deny network-outbound", true},
		{"disk", "deny network-outbound", false},
	}
	for _, test := range tests {
		if got := globMatch(test.pattern, test.value); got != test.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", test.pattern, test.value, got, test.want)
		}
	}
}
