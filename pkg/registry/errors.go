package registry

import "errors"

// Registry package errors. The server dispatcher maps each to its wire
// status code; the registry itself never touches the wire.
var (
	// ErrInvalidForm is returned when a login or register form fails
	// validation (empty login, malformed e-mail, empty password).
	ErrInvalidForm = errors.New("registry: invalid form")

	// ErrNotRegistered is returned when a login names no known account.
	ErrNotRegistered = errors.New("registry: not registered")

	// ErrWrongPassword is returned when the password does not match.
	ErrWrongPassword = errors.New("registry: wrong password")

	// ErrAlreadyRegistered is returned when a register names a taken login
	// or e-mail.
	ErrAlreadyRegistered = errors.New("registry: already registered")

	// ErrAlreadyLoggedIn is returned when a login would violate the
	// one-live-peer invariant. The existing session is left undisturbed.
	ErrAlreadyLoggedIn = errors.New("registry: already logged in")

	// ErrUnauthorized is returned when an id names no live peer or the
	// presented token does not match.
	ErrUnauthorized = errors.New("registry: unauthorized")

	// ErrWrongChannel is returned when a switch targets a channel outside
	// the valid domain.
	ErrWrongChannel = errors.New("registry: wrong channel")

	// ErrSameChannel is returned when a switch targets the channel the
	// peer is already on.
	ErrSameChannel = errors.New("registry: same channel")
)
