package transport

import "errors"

// Transport package errors.
var (
	// ErrNoHandler is returned when a transport is created without a
	// frame handler.
	ErrNoHandler = errors.New("transport: no handler")

	// ErrClosed is returned when operating on a stopped transport.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrQueueFull is returned by Enqueue when the outbound queue is at
	// capacity. The caller treats the connection as a slow consumer.
	ErrQueueFull = errors.New("transport: outbound queue full")

	// ErrConnClosed is returned by Enqueue after the connection was torn
	// down.
	ErrConnClosed = errors.New("transport: connection closed")

	// ErrResidualOverflow tears a connection down when a peer streams an
	// unterminated frame past the residual bound.
	ErrResidualOverflow = errors.New("transport: residual buffer overflow")
)
