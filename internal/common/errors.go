// Package common defines shared constants and sentinel errors used across
// client and server layers of Parley. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Authorization errors. Surfaced to the originating connection only;
	// the operation aborts with no partial state change.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotMember    = errors.New("not a member")
	ErrMuted        = errors.New("muted")
	ErrNotAdmin     = errors.New("admin only")

	// Validation errors (bad target, empty content, malformed payload).
	ErrValidation = errors.New("validation error")

	// Key management errors.
	ErrWrongSecret = errors.New("wrong secret")

	// Transient infrastructure errors (durable store unavailable).
	// The request fails; the connection stays open.
	ErrInternal = errors.New("internal error")
)
