package proto

import (
	"errors"
	"strconv"
	"strings"
)

// Payload errors.
var (
	ErrBadSystemPayload = errors.New("proto: malformed system payload")
	ErrBadPairPayload   = errors.New("proto: malformed pair payload")
)

// Status is the response body every mutating request receives exactly once.
type Status struct {
	Code    Code   `json:"code"`
	Action  Action `json:"action"`
	ID      ID     `json:"id"`
	Token   string `json:"token"`
	Payload string `json:"payload"`
}

// Check is the response body of the presence probes
// (/is_logged_in, /is_registered). Check is 1 when the probe holds.
type Check struct {
	Check  int    `json:"check"`
	Action Action `json:"action"`
	ID     ID     `json:"id"`
}

// PeerEntry is one roster line in a PeerList.
type PeerEntry struct {
	ID      ID     `json:"id"`
	Login   string `json:"login"`
	Channel int    `json:"channel"`
}

// PeerList is the response body of /all_peers. Channel is present only when
// the query restricted the roster to a single channel.
type PeerList struct {
	Peers   []PeerEntry `json:"peers"`
	Channel *int        `json:"channel,omitempty"`
}

// SystemNotice is a server-originated announcement: presence changes,
// channel moves, and forwarded private-handshake events.
type SystemNotice struct {
	System  string `json:"system"`
	Action  Action `json:"action"`
	ID      ID     `json:"id"`
	Payload string `json:"payload"`
}

// Message is a chat message as carried on the wire, both in the POST /message
// request and in the frame fanned out to recipients. Body is opaque to the
// server when the destination is private.
type Message struct {
	ID        ID     `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Channel   int    `json:"channel"`
	DestID    ID     `json:"dest_id"`
	Timestamp int64  `json:"timestamp"`
	Size      int    `json:"size"`
	Encrypted int    `json:"encrypted"`
	Body      string `json:"message"`
}

// IsDirect reports whether the message targets a single peer.
func (m *Message) IsDirect() bool {
	return m.DestID != UnknownID
}

// IsEncrypted reports whether the sender flagged the body as E2EE ciphertext.
// The flag is informational; the server never inspects the body either way.
func (m *Message) IsEncrypted() bool {
	return m.Encrypted != 0
}

// LoginForm is the POST /login request body. The Login field accepts either
// a login or an e-mail address.
type LoginForm struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// RegisterForm is the POST /register request body.
type RegisterForm struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ConfirmBody is the POST /private_confirm request body.
// Accept is 1 to accept the private session, 0 to reject.
type ConfirmBody struct {
	Accept int `json:"accept"`
}

// PubKeyBody is the POST /private_pubkey request body. Key is opaque
// base64 text; the server forwards it without decoding.
type PubKeyBody struct {
	Key string `json:"key"`
}

// SystemPayload encodes the presence-announcement payload
// "login=..&email=..&channel_move=0|1".
func SystemPayload(login, email string, move ChannelMove) string {
	var b strings.Builder
	b.WriteString("login=")
	b.WriteString(login)
	b.WriteString("&email=")
	b.WriteString(email)
	b.WriteString("&channel_move=")
	b.WriteString(strconv.Itoa(int(move)))
	return b.String()
}

// SystemFields is the decoded form of a presence-announcement payload.
type SystemFields struct {
	Login string
	Email string
	Move  ChannelMove
}

// ParseSystemPayload decodes a payload produced by SystemPayload.
func ParseSystemPayload(s string) (SystemFields, error) {
	var f SystemFields
	kv, err := splitPairs(s)
	if err != nil {
		return f, ErrBadSystemPayload
	}
	move, ok := kv["channel_move"]
	if !ok {
		return f, ErrBadSystemPayload
	}
	n, err := strconv.Atoi(move)
	if err != nil || !ChannelMove(n).IsValid() {
		return f, ErrBadSystemPayload
	}
	f.Login = kv["login"]
	f.Email = kv["email"]
	f.Move = ChannelMove(n)
	if f.Login == "" {
		return f, ErrBadSystemPayload
	}
	return f, nil
}

// PairPayload encodes the forwarded private-handshake payload
// "src_id=..&dest_id=..".
func PairPayload(src, dst ID) string {
	return "src_id=" + strconv.FormatInt(int64(src), 10) +
		"&dest_id=" + strconv.FormatInt(int64(dst), 10)
}

// PairPayloadAccept encodes the forwarded private-confirm payload
// "src_id=..&dest_id=..&accept=0|1".
func PairPayloadAccept(src, dst ID, accept bool) string {
	a := "0"
	if accept {
		a = "1"
	}
	return PairPayload(src, dst) + "&accept=" + a
}

// PairFields is the decoded form of a private-handshake payload.
type PairFields struct {
	Src    ID
	Dst    ID
	Accept int
}

// ParsePairPayload decodes a payload produced by PairPayload or
// PairPayloadAccept. Accept is -1 when the payload carried none.
func ParsePairPayload(s string) (PairFields, error) {
	f := PairFields{Accept: -1}
	kv, err := splitPairs(s)
	if err != nil {
		return f, ErrBadPairPayload
	}
	src, err := strconv.ParseInt(kv["src_id"], 10, 64)
	if err != nil {
		return f, ErrBadPairPayload
	}
	dst, err := strconv.ParseInt(kv["dest_id"], 10, 64)
	if err != nil {
		return f, ErrBadPairPayload
	}
	f.Src, f.Dst = ID(src), ID(dst)
	if a, ok := kv["accept"]; ok {
		n, err := strconv.Atoi(a)
		if err != nil || (n != 0 && n != 1) {
			return f, ErrBadPairPayload
		}
		f.Accept = n
	}
	return f, nil
}

// splitPairs parses "k=v&k=v" into a map. Values are raw bytes between
// '=' and '&'; the protocol never percent-encodes.
func splitPairs(s string) (map[string]string, error) {
	kv := make(map[string]string)
	if s == "" {
		return kv, nil
	}
	for _, part := range strings.Split(s, "&") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			return nil, errors.New("proto: bad key-value pair")
		}
		kv[k] = v
	}
	return kv, nil
}
