package registry

import (
	"crypto/rand"
	"encoding/hex"
	"net"

	"github.com/orcchg/ChatServer-sub000/pkg/proto"
)

// EmptyToken is the token value of a request that carries none.
const EmptyToken = ""

// tokenBytes is the raw token size. 16 bytes keeps tokens at the 128-bit
// floor required of session secrets.
const tokenBytes = 16

// Socket is the outbound half of a connection as the registry sees it.
// pkg/transport connections satisfy it; tests substitute fakes.
type Socket interface {
	// Key identifies the connection for the lifetime of the process.
	Key() uint64

	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr

	// Enqueue queues one encoded frame for sending without blocking.
	Enqueue(b []byte) error

	// Close tears the connection down.
	Close() error
}

// peer is the live projection of an account. Owned exclusively by the
// Manager; never escapes its lock.
type peer struct {
	id    proto.ID
	login string
	email string
	token string
	sock  Socket

	channel int

	// prevChannel is the broadcast channel held before entering a private
	// session; meaningful only while channel == proto.ChannelPrivate.
	prevChannel int
}

// PeerInfo is the read-only snapshot handed out by the Manager.
type PeerInfo struct {
	ID      proto.ID
	Login   string
	Email   string
	Channel int
}

// Session is what a successful login or register hands back to the caller.
type Session struct {
	ID      proto.ID
	Token   string
	Channel int
}

func (p *peer) info() PeerInfo {
	return PeerInfo{ID: p.id, Login: p.login, Email: p.email, Channel: p.channel}
}

// newToken draws a fresh session token: 16 random bytes, hex-encoded.
func newToken() (string, error) {
	var buf [tokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
