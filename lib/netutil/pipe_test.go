// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestPipeForwardsBothDirections(t *testing.T) {
	// Two in-memory connection pairs: client <-> pipe <-> server.
	clientSide, pipeClientLeg := net.Pipe()
	pipeServerLeg, serverSide := net.Pipe()

	pipeDone := make(chan error, 1)
	go func() {
		pipeDone <- Pipe(pipeClientLeg, pipeServerLeg)
	}()

	// Client -> server.
	go clientSide.Write([]byte("hello"))
	buffer := make([]byte, 5)
	if _, err := io.ReadFull(serverSide, buffer); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if !bytes.Equal(buffer, []byte("hello")) {
		t.Errorf("server received %q, want %q", buffer, "hello")
	}

	// Server -> client.
	go serverSide.Write([]byte("world"))
	if _, err := io.ReadFull(clientSide, buffer); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if !bytes.Equal(buffer, []byte("world")) {
		t.Errorf("client received %q, want %q", buffer, "world")
	}

	// Closing one end must propagate and unblock the pipe.
	clientSide.Close()
	select {
	case err := <-pipeDone:
		if err != nil {
			t.Errorf("Pipe() = %v, want nil for normal close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Pipe did not return after one side closed")
	}

	// The surviving leg must be closed too (no half-open leak).
	serverSide.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := serverSide.Read(buffer); err == nil {
		t.Error("server leg still open after pipe teardown")
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"closed", net.ErrClosed, true},
		{"broken pipe", syscall.EPIPE, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"wrapped reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"other", errors.New("boom"), false},
		{"other errno", syscall.EINVAL, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsExpectedCloseError(test.err); got != test.want {
				t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
