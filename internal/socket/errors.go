// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package socket

import (
	"errors"
	"fmt"
)

// Sentinel errors for common socket failures.
var (
	// ErrNotConnected indicates the socket is not connected and could not be
	// brought up within the readiness window.
	ErrNotConnected = errors.New("socket not connected")

	// ErrAuthTimeout indicates the server did not acknowledge authentication
	// within the bounded wait.
	ErrAuthTimeout = errors.New("authentication timed out")

	// ErrClosed indicates the client has been shut down.
	ErrClosed = errors.New("socket client closed")
)

// ConnectionError indicates the socket could not be established or
// authenticated. It is fatal after the bounded retry chain; the user must
// reload.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection failed: %s: %v", e.Reason, e.Err)
	}
	return "connection failed: " + e.Reason
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// JoinError indicates a conversation join was rejected or timed out.
type JoinError struct {
	ConversationID string
	Reason         string
	Err            error

	// Retryable is true when a later attempt may succeed (e.g. the socket
	// was briefly down), false when the user must reload.
	Retryable bool
}

func (e *JoinError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("joining conversation %s: %s: %v", e.ConversationID, e.Reason, e.Err)
	}
	return fmt.Sprintf("joining conversation %s: %s", e.ConversationID, e.Reason)
}

func (e *JoinError) Unwrap() error { return e.Err }

// SendError indicates a message emit failed or its acknowledgment reported
// failure. The composer retries retryable send errors transparently; after
// exhaustion the error surfaces and the user may resend manually.
type SendError struct {
	ConversationID string
	Reason         string
	Err            error
	Retryable      bool
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sending message in %s: %s: %v", e.ConversationID, e.Reason, e.Err)
	}
	return fmt.Sprintf("sending message in %s: %s", e.ConversationID, e.Reason)
}

func (e *SendError) Unwrap() error { return e.Err }
