package discovery

import "errors"

// Discovery package errors.
var (
	// ErrClosed is returned when operating on a closed advertiser.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when Start is called while advertising.
	ErrAlreadyStarted = errors.New("discovery: already advertising")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("discovery: not advertising")

	// ErrNotFound is returned by Lookup when no instance answered in time.
	ErrNotFound = errors.New("discovery: instance not found")

	// ErrInvalidInfo is returned when the advertised service info fails
	// validation.
	ErrInvalidInfo = errors.New("discovery: invalid service info")
)
