// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	expected := []error{
		io.EOF,
		net.ErrClosed,
		syscall.EPIPE,
		syscall.ECONNRESET,
		fmt.Errorf("read frame: %w", io.EOF),
		&net.OpError{Op: "read", Err: syscall.ECONNRESET},
	}
	for _, err := range expected {
		if !IsExpectedCloseError(err) {
			t.Errorf("IsExpectedCloseError(%v) = false, want true", err)
		}
	}

	unexpected := []error{
		nil,
		errors.New("frame length 5000000 exceeds limit"),
		syscall.ECONNREFUSED,
	}
	for _, err := range unexpected {
		if IsExpectedCloseError(err) {
			t.Errorf("IsExpectedCloseError(%v) = true, want false", err)
		}
	}
}

func TestCloseReason(t *testing.T) {
	if got := CloseReason(io.EOF); got != "connection closed" {
		t.Errorf("CloseReason(EOF) = %q", got)
	}
	if got := CloseReason(fmt.Errorf("write: %w", syscall.EPIPE)); got != "connection closed" {
		t.Errorf("CloseReason(EPIPE) = %q", got)
	}

	unusual := errors.New("decoding frame: unexpected tag")
	if got := CloseReason(unusual); got != unusual.Error() {
		t.Errorf("CloseReason(unusual) = %q, want the error text", got)
	}
}
