package frame

import (
	"errors"
	"fmt"
)

// Frame codec errors.
var (
	ErrEmptyFrame      = errors.New("frame: empty frame")
	ErrNotRequest      = errors.New("frame: not a request frame")
	ErrNotResponse     = errors.New("frame: not a response frame")
	ErrInvalidMethod   = errors.New("frame: invalid request method")
	ErrInvalidProtocol = errors.New("frame: invalid protocol version")
)

// maxErrLine bounds how much of an offending line a ParseError retains.
const maxErrLine = 64

// ParseError reports one malformed region of a scanned buffer. The splitter
// emits it and advances; a ParseError never terminates the stream.
type ParseError struct {
	// Offset is the byte offset of the malformed region within the buffer
	// handed to Split.
	Offset int

	// Line is the offending input, truncated to maxErrLine bytes.
	Line string

	// Reason describes what was expected.
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("frame: parse error at %d: %s (%q)", e.Offset, e.Reason, e.Line)
}

func newParseError(offset int, line []byte, reason string) *ParseError {
	l := string(line)
	if len(l) > maxErrLine {
		l = l[:maxErrLine]
	}
	return &ParseError{Offset: offset, Line: l, Reason: reason}
}
