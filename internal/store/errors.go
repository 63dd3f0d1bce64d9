package store

import "errors"

var (
	// ErrNotFound is returned when a referenced user, request or thread is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyConnected is returned when a cash request has left the pending
	// state before the caller's connect attempt (the race loser's view).
	ErrAlreadyConnected = errors.New("request already connected")

	// ErrInvalidID is returned for malformed identifiers.
	ErrInvalidID = errors.New("invalid identifier")
)
