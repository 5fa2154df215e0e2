package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is neither registered nor persisted.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyActive is returned when resuming a session that already has a live stream.
	ErrSessionAlreadyActive = errors.New("session is already active")

	// ErrUnknownPermissionRequest is returned when no pending permission matches a tool use id.
	ErrUnknownPermissionRequest = errors.New("no pending permission for tool use")

	// ErrInvalidIdentifier is returned when an id contains characters outside [A-Za-z0-9_-].
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrAgentStreamFailure wraps a non-cancellation error reported by the agent stream.
	ErrAgentStreamFailure = errors.New("agent stream failure")

	// ErrMalformedRequest is returned for undecodable client commands or missing required fields.
	ErrMalformedRequest = errors.New("malformed request")
)

// ErrCwdRequired is returned when a session creation request is missing the working directory.
var ErrCwdRequired = fmt.Errorf("%w: cwd is required", ErrMalformedRequest)
