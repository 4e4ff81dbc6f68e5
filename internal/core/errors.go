package core

import "errors"

// ErrHubStopped is returned by hub queries after Run has returned.
var ErrHubStopped = errors.New("hub stopped")

// Error codes for protocol-level errors reported by the transport.
// The broker itself never reports errors back to clients.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeInvalidMessage     = "invalid_message"
)
