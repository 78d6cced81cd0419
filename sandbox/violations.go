// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"sync"
	"time"
)

// ViolationEvent is one denied operation reported by the OS sandbox.
type ViolationEvent struct {
	// Line is the violation detail as reported by the kernel log.
	Line string

	// Command is the decoded command prefix the violation belongs to,
	// when correlation succeeded.
	Command string

	// EncodedCommand is the base64 command tag extracted from the log.
	EncodedCommand string

	Timestamp time.Time
}

// ViolationStore keeps a bounded in-memory tail of sandbox violations.
// The tail holds the most recent maxSize events; the total counter is
// monotonic and survives Clear, so callers can detect that violations
// occurred even after the tail was emptied.
type ViolationStore struct {
	mu         sync.Mutex
	violations []ViolationEvent
	totalCount int
	maxSize    int
	listeners  map[int]func([]ViolationEvent)
	nextID     int
}

// defaultViolationTail bounds the stored violation history.
const defaultViolationTail = 100

// NewViolationStore creates a store holding up to maxSize events. Zero or
// negative means the default of 100.
func NewViolationStore(maxSize int) *ViolationStore {
	if maxSize <= 0 {
		maxSize = defaultViolationTail
	}
	return &ViolationStore{
		maxSize:   maxSize,
		listeners: make(map[int]func([]ViolationEvent)),
	}
}

// Add records a violation, evicting the oldest entry when the tail is
// full, and notifies subscribers.
func (s *ViolationStore) Add(event ViolationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.violations = append(s.violations, event)
	s.totalCount++
	if len(s.violations) > s.maxSize {
		s.violations = s.violations[len(s.violations)-s.maxSize:]
	}
	snapshot := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

// Violations returns a copy of the stored tail, oldest first.
func (s *ViolationStore) Violations() []ViolationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Recent returns a copy of the most recent limit events.
func (s *ViolationStore) Recent(limit int) []ViolationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit >= len(s.violations) {
		return s.snapshotLocked()
	}
	tail := s.violations[len(s.violations)-limit:]
	out := make([]ViolationEvent, len(tail))
	copy(out, tail)
	return out
}

// Count returns the number of events currently in the tail.
func (s *ViolationStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.violations)
}

// TotalCount returns the number of events ever added. Clear does not
// reset it.
func (s *ViolationStore) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCount
}

// ForCommand returns the stored events whose encoded command tag matches
// the given command's encoding.
func (s *ViolationStore) ForCommand(command string) []ViolationEvent {
	encoded := EncodeCommand(command)

	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []ViolationEvent
	for _, event := range s.violations {
		if event.EncodedCommand == encoded {
			matches = append(matches, event)
		}
	}
	return matches
}

// Clear empties the tail and notifies subscribers. The total count is
// preserved.
func (s *ViolationStore) Clear() {
	s.mu.Lock()
	s.violations = nil
	snapshot := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

// Subscribe registers a listener for tail updates. The listener is
// invoked immediately with the current tail, then after every Add and
// Clear. The returned function unsubscribes.
func (s *ViolationStore) Subscribe(listener func([]ViolationEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	listener(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *ViolationStore) snapshotLocked() []ViolationEvent {
	out := make([]ViolationEvent, len(s.violations))
	copy(out, s.violations)
	return out
}

func (s *ViolationStore) listenersLocked() []func([]ViolationEvent) {
	out := make([]func([]ViolationEvent), 0, len(s.listeners))
	for _, listener := range s.listeners {
		out = append(out, listener)
	}
	return out
}
