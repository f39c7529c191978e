package frame

import (
	"bytes"
	"strings"
)

// Start-line signatures. A frame begins at any of these; the splitter also
// uses them to find where a length-less body ends.
var signatures = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("DELETE "),
	[]byte("HTTP/1."),
}

// Split decodes zero or more complete frames from buf.
//
// The caller owns the residual loop: append each read to the previous
// residual and pass the whole buffer back in. Split returns the complete
// frames in order, the bytes that must be retained for the next call (an
// unterminated frame, or a buffer tail that may begin the next start line),
// and one ParseError per malformed region it skipped. Parse errors never
// stop the scan.
//
// Body extent for frames without Content-Length follows the wire contract:
// the body runs to the next start-line signature, or to the end of the
// buffer. A body that opens a JSON object must close it, otherwise the
// frame is considered split across reads and is retained whole.
func Split(buf []byte) ([]*Frame, []byte, []*ParseError) {
	var (
		frames []*Frame
		errs   []*ParseError
	)

	pos := 0
	for pos < len(buf) {
		sig := findSignature(buf, pos)
		if sig < 0 {
			rest := buf[pos:]
			w := tailSignaturePrefix(rest)
			if noise := rest[:len(rest)-w]; !crlfOnly(noise) {
				errs = append(errs, newParseError(pos, noise, "no start-line"))
			}
			if w > 0 {
				// The buffer tail may be the head of the next start line.
				return frames, retain(rest[len(rest)-w:]), errs
			}
			return frames, nil, errs
		}
		if sig > pos {
			if dropped := buf[pos:sig]; !crlfOnly(dropped) {
				errs = append(errs, newParseError(pos, dropped, "preamble discarded"))
			}
			pos = sig
		}

		f, next, perr, complete := scanFrame(buf, pos)
		if !complete {
			return frames, retain(buf[pos:]), errs
		}
		if perr != nil {
			errs = append(errs, perr...)
		}
		if f != nil {
			frames = append(frames, f)
		}
		pos = next
	}
	return frames, nil, errs
}

// scanFrame parses one frame starting exactly at a signature offset.
// It returns the frame (nil when the start line was malformed and skipped),
// the offset where scanning resumes, any parse errors, and whether the
// region was complete. An incomplete region must be retained from start.
func scanFrame(buf []byte, start int) (*Frame, int, []*ParseError, bool) {
	var errs []*ParseError

	line, after, ok := cutLine(buf, start)
	if !ok {
		return nil, start, nil, false
	}
	f, err := parseStartLine(line)
	if err != nil {
		errs = append(errs, newParseError(start, line, err.Error()))
		// Advance past the bad line so the stream survives.
		return nil, after, errs, true
	}

	// Header section, up to the blank line.
	pos := after
	for {
		hline, hafter, ok := cutLine(buf, pos)
		if !ok {
			return nil, start, nil, false
		}
		pos = hafter
		if len(hline) == 0 {
			break
		}
		name, value, found := bytes.Cut(hline, []byte{':'})
		if !found || len(bytes.TrimSpace(name)) == 0 {
			errs = append(errs, newParseError(pos, hline, "malformed header"))
			continue
		}
		f.Headers = append(f.Headers, Header{
			Name:  string(bytes.TrimSpace(name)),
			Value: string(bytes.TrimSpace(value)),
		})
	}

	// Body. Content-Length wins when present; otherwise scan to the next
	// start-line signature or end of buffer.
	if cl, ok := f.ContentLength(); ok {
		if len(buf)-pos < cl {
			return nil, start, nil, false
		}
		f.Body = trimCRLF(buf[pos : pos+cl])
		return f, pos + cl, errs, true
	}

	next := findSignature(buf, pos)
	if next >= 0 {
		f.Body = trimCRLF(buf[pos:next])
		return f, next, errs, true
	}

	end := len(buf) - tailSignaturePrefix(buf[pos:])
	body := trimCRLF(buf[pos:end])
	if openJSON(body) && !jsonBalanced(body) {
		// JSON body split across reads; wait for the rest.
		return nil, start, nil, false
	}
	f.Body = body
	return f, end, errs, true
}

// parseStartLine parses "METHOD SP TARGET SP HTTP/1.x" or
// "HTTP/1.x SP CODE SP REASON".
func parseStartLine(line []byte) (*Frame, error) {
	s := string(line)
	if strings.HasPrefix(s, "HTTP/1.") {
		rest := s
		sp1 := strings.IndexByte(rest, ' ')
		if sp1 < 0 {
			return nil, ErrNotResponse
		}
		proto := rest[:sp1]
		rest = rest[sp1+1:]
		codeStr, reason, _ := strings.Cut(rest, " ")
		code := 0
		for i := 0; i < len(codeStr); i++ {
			c := codeStr[i]
			if c < '0' || c > '9' {
				return nil, ErrNotResponse
			}
			code = code*10 + int(c-'0')
		}
		if codeStr == "" {
			return nil, ErrNotResponse
		}
		return &Frame{
			Kind:   KindResponse,
			Proto:  proto,
			Code:   code,
			Reason: reason,
		}, nil
	}

	method, rest, ok := strings.Cut(s, " ")
	if !ok || !knownMethod(method) {
		return nil, ErrInvalidMethod
	}
	target, proto, ok := strings.Cut(rest, " ")
	if !ok || target == "" || !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, ErrInvalidProtocol
	}
	path, rawQuery, _ := strings.Cut(target, "?")
	return &Frame{
		Kind:   KindRequest,
		Method: method,
		Path:   path,
		Query:  parseQuery(rawQuery),
		Proto:  proto,
	}, nil
}

// parseQuery splits "k=v&k=v" into Values. Keys without '=' map to "".
func parseQuery(raw string) Values {
	if raw == "" {
		return nil
	}
	q := make(Values)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if k == "" {
			continue
		}
		q[k] = v
	}
	return q
}

func knownMethod(m string) bool {
	switch m {
	case "GET", "POST", "PUT", "DELETE":
		return true
	default:
		return false
	}
}

// cutLine returns the line starting at pos without its terminator, and the
// offset just past it. Lines end in CRLF; a bare LF is tolerated.
func cutLine(buf []byte, pos int) ([]byte, int, bool) {
	nl := bytes.IndexByte(buf[pos:], '\n')
	if nl < 0 {
		return nil, pos, false
	}
	line := buf[pos : pos+nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line, pos + nl + 1, true
}

// findSignature returns the lowest offset >= from where a start-line
// signature begins, or -1.
func findSignature(buf []byte, from int) int {
	best := -1
	for _, sig := range signatures {
		if i := bytes.Index(buf[from:], sig); i >= 0 {
			off := from + i
			if best < 0 || off < best {
				best = off
			}
		}
	}
	return best
}

// tailSignaturePrefix returns the length of the longest strict prefix of
// any signature that terminates b, so a start line split mid-signature is
// not swallowed into the preceding body.
func tailSignaturePrefix(b []byte) int {
	best := 0
	for _, sig := range signatures {
		max := len(sig) - 1
		if max > len(b) {
			max = len(b)
		}
		for l := max; l > best; l-- {
			if bytes.HasSuffix(b, sig[:l]) {
				best = l
				break
			}
		}
	}
	return best
}

// trimCRLF strips leading and trailing CR/LF residue. Embedded bytes,
// including LF inside JSON string literals, are preserved.
func trimCRLF(b []byte) []byte {
	return bytes.Trim(b, "\r\n")
}

func crlfOnly(b []byte) bool {
	for _, c := range b {
		if c != '\r' && c != '\n' && c != ' ' && c != '\t' {
			return false
		}
	}
	return true
}

// openJSON reports whether the body starts a JSON object.
func openJSON(b []byte) bool {
	t := bytes.TrimLeft(b, " \t\r\n")
	return len(t) > 0 && t[0] == '{'
}

// jsonBalanced reports whether every '{' outside string literals is closed.
func jsonBalanced(b []byte) bool {
	depth := 0
	inStr := false
	esc := false
	for _, c := range b {
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return depth == 0 && !inStr
}

// retain copies the residual out of the scan buffer so the caller may reuse
// or grow its read buffer freely.
func retain(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
