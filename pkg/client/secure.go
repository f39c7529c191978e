package client

import (
	"encoding/base64"
	"errors"
	"sync"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/chatcrypto"
	"github.com/orcchg/ChatServer-sub000/pkg/proto"
)

// Secure client errors.
var (
	// ErrNoPeerKey is returned by SendPrivate before the partner's public
	// key has been forwarded.
	ErrNoPeerKey = errors.New("client: no public key for peer")
)

// SecureClient layers the end-to-end encryption envelope on a Client. It
// drives the private-session handshake, tracks partner public keys learned
// from forwarded key notices, seals outgoing private messages, and opens
// incoming ones transparently.
//
// The wrapped Client's event channel is consumed by the SecureClient; use
// Events on the SecureClient instead.
type SecureClient struct {
	*Client

	box chatcrypto.AsymmetricCryptor
	log logging.LeveledLogger

	events chan Event

	mu       sync.Mutex
	peerKeys map[proto.ID][]byte
}

// NewSecure wraps c with E2EE. A nil box gets a fresh X25519 keypair.
func NewSecure(c *Client, box chatcrypto.AsymmetricCryptor) (*SecureClient, error) {
	if box == nil {
		var err error
		box, err = chatcrypto.NewBox()
		if err != nil {
			return nil, err
		}
	}
	s := &SecureClient{
		Client:   c,
		box:      box,
		log:      c.config.LoggerFactory.NewLogger("secure-client"),
		events:   make(chan Event, c.config.EventBuffer),
		peerKeys: make(map[proto.ID][]byte),
	}
	go s.pump()
	return s, nil
}

// Events returns the push channel with E2EE handling applied: key notices
// are absorbed into the key table, encrypted messages arrive decrypted.
func (s *SecureClient) Events() <-chan Event {
	return s.events
}

// StartPrivate asks dst to open a private session. The rest of the
// handshake runs from the event pump: once dst accepts, this side's public
// key is uploaded automatically.
func (s *SecureClient) StartPrivate(dst proto.ID) error {
	return s.PrivateRequest(dst)
}

// AcceptPrivate accepts src's private session request and uploads this
// side's public key.
func (s *SecureClient) AcceptPrivate(src proto.ID) error {
	if err := s.PrivateConfirm(src, true); err != nil {
		return err
	}
	return s.SendPubKey(s.EncodedPublicKey())
}

// RejectPrivate declines src's private session request.
func (s *SecureClient) RejectPrivate(src proto.ID) error {
	return s.PrivateConfirm(src, false)
}

// AbortPrivate tears the private session with dst down and forgets its key.
func (s *SecureClient) AbortPrivate(dst proto.ID) error {
	if err := s.PrivateAbort(dst); err != nil {
		return err
	}
	s.forgetKey(dst)
	return nil
}

// SendPrivate seals text to dst's public key and sends it as an encrypted
// direct message.
func (s *SecureClient) SendPrivate(dst proto.ID, text string) error {
	envelope, err := s.sealFor(dst, text)
	if err != nil {
		return err
	}
	return s.SendMessage(dst, 1, envelope)
}

// sealFor builds the envelope for one private message to dst.
func (s *SecureClient) sealFor(dst proto.ID, text string) (string, error) {
	s.mu.Lock()
	pub, ok := s.peerKeys[dst]
	s.mu.Unlock()
	if !ok {
		return "", ErrNoPeerKey
	}
	return chatcrypto.SealMessage(s.box, pub, []byte(text))
}

// EncodedPublicKey returns this keypair's public key in the wire encoding.
func (s *SecureClient) EncodedPublicKey() string {
	return base64.StdEncoding.EncodeToString(s.box.PublicKey())
}

// PeerKey returns the public key learned for a partner, if any.
func (s *SecureClient) PeerKey(id proto.ID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.peerKeys[id]
	return k, ok
}

// pump consumes the raw event stream: it absorbs handshake bookkeeping,
// decrypts incoming private traffic, and forwards everything else.
func (s *SecureClient) pump() {
	defer close(s.events)
	for ev := range s.Client.Events() {
		if s.handle(&ev) {
			s.forward(ev)
		}
	}
}

// handle applies E2EE side effects to one event and reports whether the
// event should still reach the consumer.
func (s *SecureClient) handle(ev *Event) bool {
	switch ev.Kind {
	case EventSystem:
		switch ev.System.Action {
		case proto.ActionPrivatePubKey:
			s.learnKey(ev.System.ID, ev.System.Payload)
		case proto.ActionPrivateConfirm:
			s.onConfirm(ev.System)
		case proto.ActionPrivateAbort:
			s.forgetKey(ev.System.ID)
		}
	case EventMessage:
		if ev.Message.IsEncrypted() {
			s.openMessage(ev.Message)
		}
	}
	return true
}

func (s *SecureClient) forward(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warnf("event dropped: %s", ev.Kind)
	}
}

// onConfirm reacts to the partner's answer: on accept, this side uploads
// its public key, completing the exchange.
func (s *SecureClient) onConfirm(n *proto.SystemNotice) {
	fields, err := proto.ParsePairPayload(n.Payload)
	if err != nil {
		s.log.Warnf("bad confirm payload %q: %v", n.Payload, err)
		return
	}
	if fields.Accept != 1 {
		return
	}
	if err := s.SendPubKey(s.EncodedPublicKey()); err != nil {
		s.log.Errorf("upload public key: %v", err)
	}
}

func (s *SecureClient) learnKey(id proto.ID, encoded string) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.log.Warnf("undecodable public key from %d: %v", id, err)
		return
	}
	s.mu.Lock()
	s.peerKeys[id] = raw
	s.mu.Unlock()
	s.log.Debugf("learned public key of peer %d", id)
}

func (s *SecureClient) forgetKey(id proto.ID) {
	s.mu.Lock()
	delete(s.peerKeys, id)
	s.mu.Unlock()
}

// openMessage decrypts an incoming envelope in place. A body that fails to
// open is left as-is so the consumer can see the failure.
func (s *SecureClient) openMessage(m *proto.Message) {
	plain, err := chatcrypto.OpenMessage(s.box, m.Body)
	if err != nil {
		s.log.Warnf("cannot open private message from %d: %v", m.ID, err)
		return
	}
	m.Body = string(plain)
	m.Size = len(m.Body)
}
