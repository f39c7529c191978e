// Package frame implements the HTTP/1.1-shaped framing of the chat wire
// protocol. Frames are parsed out of raw byte buffers and serialized back;
// the codec is a pure function of bytes and carries no I/O or session state
// beyond the residual buffer its caller threads between reads.
//
// The wire format allows several frames to share one read and a frame to
// span several reads. Bodies carry no Content-Length in this protocol, so
// the splitter delimits them by scanning for the next start-line signature
// (see Split).
package frame

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates request frames from response frames.
type Kind uint8

const (
	// KindRequest is a client-originated frame (METHOD SP PATH SP HTTP/1.x).
	KindRequest Kind = 0

	// KindResponse is a server-originated frame (HTTP/1.x SP CODE SP REASON).
	KindResponse Kind = 1
)

// String returns a human-readable name for the frame kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// ProtoHTTP11 is the protocol version emitted on every serialized frame.
const ProtoHTTP11 = "HTTP/1.1"

// DefaultCode and DefaultReason form the code line of server pushes; the
// protocol carries real status in the JSON body, never in the code line.
const (
	DefaultCode   = 200
	DefaultReason = "OK"
)

// Header is one name/value pair from the header section. Order is preserved
// from the wire; lookup through Frame.HeaderValue is case-insensitive.
type Header struct {
	Name  string
	Value string
}

// Values holds parsed query pairs. Values are the raw bytes between '=' and
// '&'; this protocol never percent-encodes.
type Values map[string]string

// Get returns the value for key, or "" when absent.
func (v Values) Get(key string) string {
	return v[key]
}

// Has reports whether key was present in the query.
func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

// Int parses the value for key as a decimal integer.
func (v Values) Int(key string) (int, error) {
	return strconv.Atoi(v[key])
}

// Int64 parses the value for key as a decimal 64-bit integer.
func (v Values) Int64(key string) (int64, error) {
	return strconv.ParseInt(v[key], 10, 64)
}

// Frame is one complete HTTP-shaped request or response. Frames are
// immutable after decode; treat all fields as read-only.
type Frame struct {
	Kind Kind

	// Request fields (KindRequest).
	Method string
	Path   string // path root, query stripped
	Query  Values

	// Response fields (KindResponse).
	Code   int
	Reason string

	// Proto is the protocol token from the start line, e.g. "HTTP/1.1".
	Proto string

	// Headers preserves the header section in wire order.
	Headers []Header

	// Body is the frame payload with CR/LF-only residue trimmed.
	Body []byte
}

// NewRequest builds a request frame ready for Encode.
func NewRequest(method, path string, query Values, body []byte) *Frame {
	return &Frame{
		Kind:   KindRequest,
		Method: method,
		Path:   path,
		Query:  query,
		Proto:  ProtoHTTP11,
		Body:   body,
	}
}

// NewResponse builds a 200 OK response frame carrying body. All
// server-to-client frames take this shape.
func NewResponse(body []byte) *Frame {
	return &Frame{
		Kind:   KindResponse,
		Code:   DefaultCode,
		Reason: DefaultReason,
		Proto:  ProtoHTTP11,
		Body:   body,
	}
}

// HeaderValue returns the first header with the given name,
// case-insensitively.
func (f *Frame) HeaderValue(name string) (string, bool) {
	for _, h := range f.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ContentLength returns the parsed Content-Length header, if present and
// well-formed. The chat protocol omits it; the splitter honors it anyway.
func (f *Frame) ContentLength() (int, bool) {
	v, ok := f.HeaderValue("Content-Length")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Target reassembles the request target: path root plus the query string,
// with keys in sorted order for a stable encoding.
func (f *Frame) Target() string {
	if len(f.Query) == 0 {
		return f.Path
	}
	keys := make([]string, 0, len(f.Query))
	for k := range f.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(f.Path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(f.Query[k])
	}
	return b.String()
}

// Encode serializes the frame to wire bytes.
func (f *Frame) Encode() []byte {
	var b bytes.Buffer
	if f.Kind == KindRequest {
		b.WriteString(f.Method)
		b.WriteByte(' ')
		b.WriteString(f.Target())
		b.WriteByte(' ')
		b.WriteString(f.protoToken())
	} else {
		b.WriteString(f.protoToken())
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(f.Code))
		b.WriteByte(' ')
		if f.Reason != "" {
			b.WriteString(f.Reason)
		} else {
			b.WriteString(DefaultReason)
		}
	}
	b.WriteString("\r\n")
	for _, h := range f.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(f.Body)
	return b.Bytes()
}

func (f *Frame) protoToken() string {
	if f.Proto != "" {
		return f.Proto
	}
	return ProtoHTTP11
}
