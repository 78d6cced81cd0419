// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"testing"
	"time"
)

func testEvent(line string) ViolationEvent {
	return ViolationEvent{Line: line, Timestamp: time.Now()}
}

func TestViolationStoreKeepsTail(t *testing.T) {
	store := NewViolationStore(3)
	for i := 0; i < 5; i++ {
		store.Add(testEvent(fmt.Sprintf("deny %d", i)))
	}

	events := store.Violations()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Line != "deny 2" || events[2].Line != "deny 4" {
		t.Errorf("wrong tail: %v", events)
	}
	if store.Count() != 3 {
		t.Errorf("Count() = %d, want 3", store.Count())
	}
	if store.TotalCount() != 5 {
		t.Errorf("TotalCount() = %d, want 5", store.TotalCount())
	}
}

func TestViolationStoreClearPreservesTotal(t *testing.T) {
	store := NewViolationStore(10)
	store.Add(testEvent("one"))
	store.Add(testEvent("two"))
	store.Clear()

	if store.Count() != 0 {
		t.Errorf("Count() = %d after Clear, want 0", store.Count())
	}
	if store.TotalCount() != 2 {
		t.Errorf("TotalCount() = %d after Clear, want 2", store.TotalCount())
	}

	store.Add(testEvent("three"))
	if store.TotalCount() != 3 {
		t.Errorf("TotalCount() = %d, want 3", store.TotalCount())
	}
}

func TestViolationStoreRecent(t *testing.T) {
	store := NewViolationStore(10)
	for i := 0; i < 4; i++ {
		store.Add(testEvent(fmt.Sprintf("deny %d", i)))
	}

	recent := store.Recent(2)
	if len(recent) != 2 || recent[0].Line != "deny 2" || recent[1].Line != "deny 3" {
		t.Errorf("Recent(2) = %v", recent)
	}
	if got := store.Recent(100); len(got) != 4 {
		t.Errorf("Recent(100) returned %d events, want 4", len(got))
	}
}

func TestViolationStoreForCommand(t *testing.T) {
	store := NewViolationStore(10)
	store.Add(ViolationEvent{Line: "a", EncodedCommand: EncodeCommand("curl example.com")})
	store.Add(ViolationEvent{Line: "b", EncodedCommand: EncodeCommand("ls")})
	store.Add(ViolationEvent{Line: "c", EncodedCommand: EncodeCommand("curl example.com")})

	matches := store.ForCommand("curl example.com")
	if len(matches) != 2 || matches[0].Line != "a" || matches[1].Line != "c" {
		t.Errorf("ForCommand = %v", matches)
	}
	if got := store.ForCommand("unknown"); len(got) != 0 {
		t.Errorf("ForCommand(unknown) = %v, want none", got)
	}
}

func TestViolationStoreSubscribe(t *testing.T) {
	store := NewViolationStore(10)
	store.Add(testEvent("before"))

	notified := make(chan []ViolationEvent, 4)
	unsubscribe := store.Subscribe(func(events []ViolationEvent) {
		notified <- events
	})

	// Subscription delivers the current state immediately.
	initial := <-notified
	if len(initial) != 1 || initial[0].Line != "before" {
		t.Fatalf("initial notification = %v", initial)
	}

	store.Add(testEvent("after"))
	updated := <-notified
	if len(updated) != 2 {
		t.Fatalf("updated notification = %v", updated)
	}

	unsubscribe()
	store.Add(testEvent("ignored"))
	select {
	case events := <-notified:
		t.Errorf("notified after unsubscribe: %v", events)
	case <-time.After(50 * time.Millisecond):
	}
}
