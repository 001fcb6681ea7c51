// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// AppError represents a structured error response from the chat
// server. Callers can use errors.As to extract the structured
// information:
//
//	var appErr *AppError
//	if errors.As(err, &appErr) {
//	    if appErr.ID == ErrIDSessionExpired { ... }
//	}
type AppError struct {
	// ID is the server's stable error identifier
	// (e.g., "api.context.session_expired.app_error").
	ID string `json:"id"`
	// Message is the human-readable description from the server.
	Message string `json:"message"`
	// RequestID correlates the error with server-side logs.
	RequestID string `json:"request_id,omitempty"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"status_code"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("server: %s (%d): %s", e.ID, e.StatusCode, e.Message)
}

// Server error identifiers the session layer reacts to.
const (
	// ErrIDSessionExpired is returned by any REST endpoint when the
	// session token is no longer valid. Every REST result passes
	// through an expiry check, and this ID is what drives the
	// connected → authenticating transition.
	ErrIDSessionExpired = "api.context.session_expired.app_error"

	// ErrIDInvalidToken is returned when a token fails validation
	// outright (revoked or malformed), as opposed to having expired.
	ErrIDInvalidToken = "api.context.invalid_token.app_error"

	// ErrIDLoginInvalid is returned by the login endpoint for bad
	// credentials.
	ErrIDLoginInvalid = "api.user.login.invalid_credentials_email_username"
)

// IsAppError checks whether err is (or wraps) an *AppError with the
// given server error ID.
func IsAppError(err error, id string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ID == id
	}
	return false
}

// isSessionExpired reports whether err is the server's session-expiry
// signal.
func isSessionExpired(err error) bool {
	return IsAppError(err, ErrIDSessionExpired)
}

// ProtocolError reports an inbound stream frame whose event kind the
// client does not recognize. This is distinct from an ordinary error:
// it means the server speaks a protocol revision the client does not
// understand, and it is surfaced loudly (via the OnProtocolViolation
// handler and an error-level log) rather than silently dropped. Only
// the offending frame is lost; the session keeps running.
type ProtocolError struct {
	// Event is the unrecognized event discriminator.
	Event string
	// Frame is the raw frame payload, for diagnostics.
	Frame []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("messaging: unrecognized event kind %q", e.Event)
}
