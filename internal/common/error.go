// Package common defines shared constants and sentinel errors used across
// the offline substrate. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrValidation   = errors.New("validation error")

	// Session-level errors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrUnauthorized       = errors.New("unauthorized")

	// Network/sync errors. ErrNetworkUnavailable is transient: it triggers
	// the local-fallback path and a queue enqueue, never a caller-visible
	// failure. ErrSyncExhausted is surfaced only after the retry budget
	// is spent.
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrSyncConflict       = errors.New("sync conflict")
	ErrSyncExhausted      = errors.New("sync retries exhausted")

	// Generic flow control.
	ErrInternal = errors.New("internal error")
)
