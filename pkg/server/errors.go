package server

import "errors"

// Server package errors.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("server: already started")

	// ErrNotRunning is returned when Stop is called before Start or after
	// shutdown.
	ErrNotRunning = errors.New("server: not running")
)
