// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides connection plumbing shared by the sandbox
// proxies: bidirectional byte piping between two connections and
// classification of the errors produced by normal pipe teardown.
package netutil

import (
	"io"
	"net"
)

// pipeResult holds the outcome of one direction of a bidirectional pipe.
type pipeResult struct {
	bytesCopied int64
	err         error
}

// Pipe copies bytes bidirectionally between two connections until either
// side closes. When one direction finishes, both connections are closed to
// unblock the surviving goroutine, so no half-open leg survives the call.
//
// Returns the error from the direction that terminated first, or nil when
// termination was a normal close (EOF, peer disconnect, broken pipe,
// connection reset).
func Pipe(a, b net.Conn) error {
	return PipeReaders(a, a, b, b)
}

// PipeReaders is Pipe for the case where some bytes have already been
// consumed from one or both connections (e.g. after a proxy handshake on
// the client leg): each direction copies from the given reader into the
// opposite connection.
func PipeReaders(connectionA net.Conn, readerA io.Reader, connectionB net.Conn, readerB io.Reader) error {
	done := make(chan pipeResult, 2)

	go func() {
		bytesCopied, err := io.Copy(connectionB, readerA)
		done <- pipeResult{bytesCopied, err}
	}()

	go func() {
		bytesCopied, err := io.Copy(connectionA, readerB)
		done <- pipeResult{bytesCopied, err}
	}()

	// Wait for one direction to finish, then close both to unblock the other.
	first := <-done
	connectionA.Close()
	connectionB.Close()
	<-done

	if first.err != nil && !IsExpectedCloseError(first.err) {
		return first.err
	}
	return nil
}
