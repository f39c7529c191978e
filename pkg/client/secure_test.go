package client

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/orcchg/ChatServer-sub000/pkg/proto"
	"github.com/orcchg/ChatServer-sub000/pkg/server"
)

func connectSecure(t *testing.T, s *server.Server) *SecureClient {
	t.Helper()
	sc, err := NewSecure(connect(t, s), nil)
	if err != nil {
		t.Fatalf("NewSecure() error: %v", err)
	}
	return sc
}

// autoAccept consumes a secure client's events, accepting every private
// session request and forwarding decrypted messages to the returned channel.
func autoAccept(t *testing.T, sc *SecureClient) <-chan *proto.Message {
	t.Helper()
	msgs := make(chan *proto.Message, 8)
	go func() {
		for ev := range sc.Events() {
			switch ev.Kind {
			case EventSystem:
				if ev.System.Action == proto.ActionPrivateRequest {
					if err := sc.AcceptPrivate(ev.System.ID); err != nil {
						t.Errorf("AcceptPrivate() error: %v", err)
					}
				}
			case EventMessage:
				msgs <- ev.Message
			}
		}
	}()
	return msgs
}

func waitPeerKey(t *testing.T, sc *SecureClient, id proto.ID) []byte {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for {
		if k, ok := sc.PeerKey(id); ok {
			return k
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for public key of peer %d", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSecurePrivateSession(t *testing.T) {
	s := newTestServer(t, server.Config{EnableE2EE: true})
	alice := connectSecure(t, s)
	bob := connectSecure(t, s)

	aid, err := alice.Register("alice", "alice@test.io", "pw")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bid, err := bob.Register("bob", "bob@test.io", "pw")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	bobMsgs := autoAccept(t, bob)

	// The handshake runs itself: request, auto-accept, key exchange.
	if err := alice.StartPrivate(bid); err != nil {
		t.Fatalf("StartPrivate() error: %v", err)
	}
	waitPeerKey(t, alice, bid)
	waitPeerKey(t, bob, aid)

	if err := alice.SendPrivate(bid, "meet at the usual place"); err != nil {
		t.Fatalf("SendPrivate() error: %v", err)
	}
	select {
	case msg := <-bobMsgs:
		if msg.Body != "meet at the usual place" {
			t.Errorf("decrypted body = %q, want %q", msg.Body, "meet at the usual place")
		}
		if msg.Encrypted != 1 {
			t.Errorf("encrypted flag = %d, want 1", msg.Encrypted)
		}
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for the private message")
	}

	// The envelope itself is never plaintext.
	env, err := alice.sealFor(bid, "smoke check")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(env, "smoke check") {
		t.Error("sealed envelope contains the plaintext")
	}

	// Abort drops the key; further private sends are refused locally.
	if err := alice.AbortPrivate(bid); err != nil {
		t.Fatalf("AbortPrivate() error: %v", err)
	}
	if err := alice.SendPrivate(bid, "again"); !errors.Is(err, ErrNoPeerKey) {
		t.Errorf("error = %v, want %v", err, ErrNoPeerKey)
	}
}

func TestSecureRejectLeavesNoKeys(t *testing.T) {
	s := newTestServer(t, server.Config{EnableE2EE: true})
	alice := connectSecure(t, s)
	bob := connectSecure(t, s)

	if _, err := alice.Register("alice", "alice@test.io", "pw"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bid, err := bob.Register("bob", "bob@test.io", "pw")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	// Bob declines every request.
	go func() {
		for ev := range bob.Events() {
			if ev.Kind == EventSystem && ev.System.Action == proto.ActionPrivateRequest {
				bob.RejectPrivate(ev.System.ID)
			}
		}
	}()

	if err := alice.StartPrivate(bid); err != nil {
		t.Fatalf("StartPrivate() error: %v", err)
	}

	// The rejection notice arrives as a plain event; no key is ever learned.
	ev := waitEvent(t, alice.Events(), EventSystem)
	if ev.System.Action != proto.ActionPrivateConfirm {
		t.Fatalf("action = %v, want %v", ev.System.Action, proto.ActionPrivateConfirm)
	}
	fields, err := proto.ParsePairPayload(ev.System.Payload)
	if err != nil || fields.Accept != 0 {
		t.Fatalf("payload %q: %v %+v", ev.System.Payload, err, fields)
	}
	if err := alice.SendPrivate(bid, "hello?"); !errors.Is(err, ErrNoPeerKey) {
		t.Errorf("error = %v, want %v", err, ErrNoPeerKey)
	}
}
