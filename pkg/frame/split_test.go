package frame

import (
	"bytes"
	"reflect"
	"testing"
)

func TestSplitSingleRequest(t *testing.T) {
	buf := []byte("POST /login HTTP/1.1\r\nHost: localhost\r\n\r\n{\"login\":\"maxim\",\"password\":\"x\"}")

	frames, residual, errs := Split(buf)
	if len(errs) != 0 {
		t.Fatalf("Split() errs = %v, want none", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("Split() frames = %d, want 1", len(frames))
	}
	if len(residual) != 0 {
		t.Fatalf("Split() residual = %q, want empty", residual)
	}

	f := frames[0]
	if f.Kind != KindRequest || f.Method != "POST" || f.Path != "/login" {
		t.Errorf("start line = %v %s %s, want request POST /login", f.Kind, f.Method, f.Path)
	}
	if got, ok := f.HeaderValue("host"); !ok || got != "localhost" {
		t.Errorf("HeaderValue(host) = %q/%v, want localhost/true", got, ok)
	}
	if string(f.Body) != `{"login":"maxim","password":"x"}` {
		t.Errorf("Body = %q", f.Body)
	}
}

func TestSplitSingleResponse(t *testing.T) {
	buf := []byte("HTTP/1.1 200 OK\r\n\r\n{\"code\":0,\"action\":1,\"id\":1000,\"token\":\"ab\",\"payload\":\"\"}")

	frames, residual, errs := Split(buf)
	if len(errs) != 0 || len(frames) != 1 || len(residual) != 0 {
		t.Fatalf("Split() = %d frames, %q residual, %v errs", len(frames), residual, errs)
	}
	f := frames[0]
	if f.Kind != KindResponse || f.Code != 200 || f.Reason != "OK" || f.Proto != "HTTP/1.1" {
		t.Errorf("code line = %v %d %q %q", f.Kind, f.Code, f.Reason, f.Proto)
	}
}

func TestSplitQueryPairs(t *testing.T) {
	buf := []byte("PUT /switch_channel?id=1001&channel=0 HTTP/1.1\r\n\r\n")

	frames, _, errs := Split(buf)
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("Split() = %d frames, errs %v", len(frames), errs)
	}
	f := frames[0]
	if f.Path != "/switch_channel" {
		t.Errorf("Path = %q, want /switch_channel", f.Path)
	}
	want := Values{"id": "1001", "channel": "0"}
	if !reflect.DeepEqual(f.Query, want) {
		t.Errorf("Query = %v, want %v", f.Query, want)
	}
	if n, err := f.Query.Int("channel"); err != nil || n != 0 {
		t.Errorf("Query.Int(channel) = %d, %v", n, err)
	}
}

// Three concatenated frames in one buffer must come back as exactly three
// frames, in order, with nothing retained.
func TestSplitConcatenated(t *testing.T) {
	buf := []byte("POST /login HTTP/1.1\r\nHost: x\r\n\r\n" +
		`{"login":"maxim","password":"x"}` +
		"DELETE /logout?id=1000 HTTP/1.1\r\n\r\n" +
		"POST /message HTTP/1.1\r\n\r\n" +
		`{"id":1000,"login":"maxim","email":"m@x.ru","channel":0,"dest_id":0,"timestamp":1,"size":5,"encrypted":0,"message":"hello"}`)

	frames, residual, errs := Split(buf)
	if len(errs) != 0 {
		t.Fatalf("Split() errs = %v, want none", errs)
	}
	if len(frames) != 3 {
		t.Fatalf("Split() frames = %d, want 3", len(frames))
	}
	if len(residual) != 0 {
		t.Fatalf("Split() residual = %q, want empty", residual)
	}

	if frames[0].Method != "POST" || frames[0].Path != "/login" {
		t.Errorf("frame 0 = %s %s", frames[0].Method, frames[0].Path)
	}
	if frames[1].Method != "DELETE" || frames[1].Path != "/logout" || frames[1].Query.Get("id") != "1000" {
		t.Errorf("frame 1 = %s %s %v", frames[1].Method, frames[1].Path, frames[1].Query)
	}
	if len(frames[1].Body) != 0 {
		t.Errorf("frame 1 body = %q, want empty", frames[1].Body)
	}
	if frames[2].Method != "POST" || frames[2].Path != "/message" {
		t.Errorf("frame 2 = %s %s", frames[2].Method, frames[2].Path)
	}
	if !bytes.Contains(frames[2].Body, []byte(`"message":"hello"`)) {
		t.Errorf("frame 2 body = %q", frames[2].Body)
	}
}

func TestSplitPartialHeaders(t *testing.T) {
	full := []byte("POST /login HTTP/1.1\r\nHost: x\r\n\r\n{\"login\":\"a\",\"password\":\"b\"}")
	cut := len("POST /login HTTP/1.1\r\nHos")

	frames, residual, errs := Split(full[:cut])
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("partial Split() = %d frames, errs %v", len(frames), errs)
	}
	if !bytes.Equal(residual, full[:cut]) {
		t.Fatalf("residual = %q, want whole prefix", residual)
	}

	frames, residual, errs = Split(append(residual, full[cut:]...))
	if len(frames) != 1 || len(residual) != 0 || len(errs) != 0 {
		t.Fatalf("resumed Split() = %d frames, %q residual, %v errs", len(frames), residual, errs)
	}
	if string(frames[0].Body) != `{"login":"a","password":"b"}` {
		t.Errorf("Body = %q", frames[0].Body)
	}
}

func TestSplitPartialJSONBody(t *testing.T) {
	full := []byte("POST /message HTTP/1.1\r\n\r\n{\"id\":1000,\"message\":\"hel")
	rest := []byte("lo\"}")

	frames, residual, errs := Split(full)
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("Split() = %d frames, errs %v, want frame retained", len(frames), errs)
	}
	if !bytes.Equal(residual, full) {
		t.Fatalf("residual = %q, want whole frame", residual)
	}

	frames, residual, errs = Split(append(residual, rest...))
	if len(frames) != 1 || len(residual) != 0 || len(errs) != 0 {
		t.Fatalf("resumed Split() = %d frames, %q residual, %v errs", len(frames), residual, errs)
	}
	if string(frames[0].Body) != `{"id":1000,"message":"hello"}` {
		t.Errorf("Body = %q", frames[0].Body)
	}
}

// A start line split mid-signature must not be swallowed into the
// preceding frame's body.
func TestSplitTailSignaturePrefix(t *testing.T) {
	first := "POST /message HTTP/1.1\r\n\r\n{\"id\":1000,\"message\":\"hi\"}"
	buf := []byte(first + "POS")

	frames, residual, errs := Split(buf)
	if len(errs) != 0 {
		t.Fatalf("Split() errs = %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("Split() frames = %d, want 1", len(frames))
	}
	if string(frames[0].Body) != `{"id":1000,"message":"hi"}` {
		t.Errorf("Body = %q, tail prefix leaked into body", frames[0].Body)
	}
	if string(residual) != "POS" {
		t.Fatalf("residual = %q, want POS", residual)
	}

	frames, residual, errs = Split(append(residual, []byte("T /logout?id=1 HTTP/1.1\r\n\r\n")...))
	if len(frames) != 1 || len(residual) != 0 || len(errs) != 0 {
		t.Fatalf("resumed Split() = %d frames, %q residual, %v errs", len(frames), residual, errs)
	}
	if frames[0].Method != "POST" || frames[0].Path != "/logout" {
		t.Errorf("resumed frame = %s %s", frames[0].Method, frames[0].Path)
	}
}

func TestSplitPreambleNoise(t *testing.T) {
	buf := []byte("garbage bytes\r\nGET /login HTTP/1.1\r\n\r\n")

	frames, residual, errs := Split(buf)
	if len(frames) != 1 || frames[0].Path != "/login" {
		t.Fatalf("Split() frames = %d, want the frame behind the noise", len(frames))
	}
	if len(residual) != 0 {
		t.Errorf("residual = %q, want empty", residual)
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one preamble error", errs)
	}
}

// A malformed start line is skipped, the stream continues.
func TestSplitBadStartLineSkipped(t *testing.T) {
	buf := []byte("GET nothttp\r\nGET /register HTTP/1.1\r\n\r\n")

	frames, residual, errs := Split(buf)
	if len(frames) != 1 || frames[0].Path != "/register" {
		t.Fatalf("Split() = %d frames, want /register after skip", len(frames))
	}
	if len(errs) == 0 {
		t.Error("errs empty, want ParseError for the bad line")
	}
	if len(residual) != 0 {
		t.Errorf("residual = %q, want empty", residual)
	}
	var perr *ParseError = errs[0]
	if perr.Reason == "" || perr.Line == "" {
		t.Errorf("ParseError lacks context: %+v", perr)
	}
}

func TestSplitContentLengthWins(t *testing.T) {
	// Body contains a signature; Content-Length must override the scan.
	body := "GET lost in the middle"
	buf := []byte("POST /message HTTP/1.1\r\nContent-Length: " +
		itoa(len(body)) + "\r\n\r\n" + body)

	frames, residual, errs := Split(buf)
	if len(frames) != 1 || len(errs) != 0 {
		t.Fatalf("Split() = %d frames, errs %v", len(frames), errs)
	}
	if string(frames[0].Body) != body {
		t.Errorf("Body = %q, want %q", frames[0].Body, body)
	}
	if len(residual) != 0 {
		t.Errorf("residual = %q", residual)
	}
}

func TestSplitBodyKeepsEmbeddedLF(t *testing.T) {
	body := "{\"message\":\"line1\\nline2\"}"
	buf := []byte("POST /message HTTP/1.1\r\n\r\n" + body + "\r\n")

	frames, _, errs := Split(buf)
	if len(frames) != 1 || len(errs) != 0 {
		t.Fatalf("Split() = %d frames, errs %v", len(frames), errs)
	}
	if string(frames[0].Body) != body {
		t.Errorf("Body = %q, want %q (trailing CRLF trimmed, inner kept)", frames[0].Body, body)
	}
}

func TestSplitEmpty(t *testing.T) {
	frames, residual, errs := Split(nil)
	if len(frames) != 0 || len(residual) != 0 || len(errs) != 0 {
		t.Errorf("Split(nil) = %d, %q, %v", len(frames), residual, errs)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [8]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

func FuzzSplit(f *testing.F) {
	f.Add([]byte("POST /login HTTP/1.1\r\n\r\n{\"login\":\"a\",\"password\":\"b\"}"))
	f.Add([]byte("GET /all_peers?channel=0 HTTP/1.1\r\n\r\nHTTP/1.1 200 OK\r\n\r\n{\"code\":0}"))
	f.Add([]byte("DELETE /logout?id=1000 HTTP/1.1\r\n\r\nPOS"))
	f.Add([]byte("noise\r\nPUT /switch_channel?id=1&channel=2 HTTP/1.1\r\nA: b\r\n\r\n"))
	f.Fuzz(func(t *testing.T, data []byte) {
		frames, residual, _ := Split(data)
		if len(residual) > len(data) {
			t.Fatalf("residual grew: %d > %d", len(residual), len(data))
		}
		if len(residual) > 0 && !bytes.HasSuffix(data, residual) {
			t.Fatalf("residual %q is not a suffix of input", residual)
		}
		for _, fr := range frames {
			// Every decoded frame must re-encode without panicking.
			_ = fr.Encode()
		}
	})
}
