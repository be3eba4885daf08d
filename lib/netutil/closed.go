// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small networking helpers shared by the
// transport and the controller's connection pumps.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. A worker dropping its control channel produces one of these
// on the overseer's in-flight read; the controller turns it into a
// node-down event rather than logging it as an error.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// CloseReason renders a control-channel read error as the node-down
// reason handed to user callbacks and logs. Expected terminations
// (worker killed, host reclaimed, shim redialing) collapse to
// "connection closed" so embedders see one stable reason string for
// ordinary churn; anything else keeps its error text, since it points
// at a transport problem worth reading.
func CloseReason(err error) string {
	if IsExpectedCloseError(err) {
		return "connection closed"
	}
	return err.Error()
}
