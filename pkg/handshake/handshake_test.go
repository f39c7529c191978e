package handshake

import (
	"errors"
	"testing"

	"github.com/orcchg/ChatServer-sub000/pkg/proto"
)

const (
	peerA = proto.ID(1000)
	peerB = proto.ID(1001)
	peerC = proto.ID(1002)
)

func TestRequestConfirmKeysActive(t *testing.T) {
	c := New(Config{})

	created, err := c.Request(peerA, peerB)
	if err != nil || !created {
		t.Fatalf("Request = (%v, %v), want (true, nil)", created, err)
	}
	if got := c.State(peerA, peerB); got != StatePendingConfirm {
		t.Fatalf("state = %v, want PendingConfirm", got)
	}
	if c.Authorized(peerA, peerB) {
		t.Error("pair authorized before confirm")
	}

	res, err := c.Confirm(peerB, peerA, true)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !res.Accepted || res.Initiator != peerA {
		t.Errorf("Confirm result = %+v, want accepted, initiator %d", res, peerA)
	}
	if got := c.State(peerA, peerB); got != StatePendingKeys {
		t.Fatalf("state = %v, want PendingKeys", got)
	}
	if !c.Authorized(peerA, peerB) {
		t.Error("pair not authorized in PendingKeys")
	}

	fws := c.MarkKey(peerA)
	if len(fws) != 1 || fws[0].Partner != peerB || fws[0].NowActive {
		t.Fatalf("first MarkKey = %+v, want forward to %d, not active", fws, peerB)
	}
	fws = c.MarkKey(peerB)
	if len(fws) != 1 || fws[0].Partner != peerA || !fws[0].NowActive {
		t.Fatalf("second MarkKey = %+v, want forward to %d, now active", fws, peerA)
	}
	if got := c.State(peerA, peerB); got != StateActive {
		t.Errorf("state = %v, want Active", got)
	}
}

func TestDuplicateRequestIsNoOp(t *testing.T) {
	c := New(Config{})
	if _, err := c.Request(peerA, peerB); err != nil {
		t.Fatalf("Request: %v", err)
	}
	created, err := c.Request(peerA, peerB)
	if err != nil || created {
		t.Errorf("duplicate Request = (%v, %v), want (false, nil)", created, err)
	}
	// Same pair from the other direction is still the same slot.
	created, err = c.Request(peerB, peerA)
	if err != nil || created {
		t.Errorf("reversed Request = (%v, %v), want (false, nil)", created, err)
	}
	if c.Count() != 1 {
		t.Errorf("slots = %d, want 1", c.Count())
	}
}

func TestRequestSelf(t *testing.T) {
	c := New(Config{})
	if _, err := c.Request(peerA, peerA); !errors.Is(err, ErrSamePeer) {
		t.Errorf("Request(self) err = %v, want ErrSamePeer", err)
	}
}

func TestConfirmGuards(t *testing.T) {
	c := New(Config{})
	if _, err := c.Confirm(peerB, peerA, true); !errors.Is(err, ErrNoSlot) {
		t.Errorf("Confirm without slot err = %v, want ErrNoSlot", err)
	}

	if _, err := c.Request(peerA, peerB); err != nil {
		t.Fatalf("Request: %v", err)
	}
	// Only the responder may answer.
	if _, err := c.Confirm(peerA, peerB, true); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Confirm by initiator err = %v, want ErrUnauthorized", err)
	}
}

func TestRejectDestroysSlot(t *testing.T) {
	c := New(Config{})
	if _, err := c.Request(peerA, peerB); err != nil {
		t.Fatalf("Request: %v", err)
	}
	res, err := c.Confirm(peerB, peerA, false)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Accepted {
		t.Error("reject reported as accepted")
	}
	if got := c.State(peerA, peerB); got != StateIdle {
		t.Errorf("state after reject = %v, want Idle", got)
	}
	// The pair may start over.
	if created, err := c.Request(peerB, peerA); err != nil || !created {
		t.Errorf("Request after reject = (%v, %v), want (true, nil)", created, err)
	}
}

func TestAbortFromAnyState(t *testing.T) {
	c := New(Config{})
	if _, err := c.Request(peerA, peerB); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := c.Confirm(peerB, peerA, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	c.MarkKey(peerA)
	c.MarkKey(peerB)

	state, existed := c.Abort(peerB, peerA)
	if !existed || state != StateActive {
		t.Errorf("Abort = (%v, %v), want (Active, true)", state, existed)
	}
	if c.Authorized(peerA, peerB) {
		t.Error("pair still authorized after abort")
	}
	if _, existed := c.Abort(peerA, peerB); existed {
		t.Error("second Abort found a slot, want no-op")
	}
	// An outsider cannot abort someone else's slot.
	if _, err := c.Request(peerA, peerB); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, existed := c.Abort(peerC, peerB); existed {
		t.Error("outsider abort destroyed a slot")
	}
}

func TestMarkKeyIgnoresUnestablishedSlots(t *testing.T) {
	c := New(Config{})
	if _, err := c.Request(peerA, peerB); err != nil {
		t.Fatalf("Request: %v", err)
	}
	// Still PendingConfirm: key submission creates no forwarding.
	if fws := c.MarkKey(peerA); len(fws) != 0 {
		t.Errorf("MarkKey in PendingConfirm = %+v, want none", fws)
	}
	// A peer with no slot at all gets nothing either.
	if fws := c.MarkKey(peerC); len(fws) != 0 {
		t.Errorf("MarkKey without slot = %+v, want none", fws)
	}
}

func TestMarkKeyFansOutToEverySlot(t *testing.T) {
	c := New(Config{})
	for _, dst := range []proto.ID{peerB, peerC} {
		if _, err := c.Request(peerA, dst); err != nil {
			t.Fatalf("Request(%d): %v", dst, err)
		}
		if _, err := c.Confirm(dst, peerA, true); err != nil {
			t.Fatalf("Confirm(%d): %v", dst, err)
		}
	}

	fws := c.MarkKey(peerA)
	if len(fws) != 2 {
		t.Fatalf("MarkKey forwards = %d, want 2", len(fws))
	}
	partners := map[proto.ID]bool{}
	for _, fw := range fws {
		partners[fw.Partner] = true
		if fw.NowActive {
			t.Errorf("slot with %d active after one key", fw.Partner)
		}
	}
	if !partners[peerB] || !partners[peerC] {
		t.Errorf("forward partners = %v, want %d and %d", partners, peerB, peerC)
	}
}

func TestDropPeerDestroysAllSlots(t *testing.T) {
	c := New(Config{})
	if _, err := c.Request(peerA, peerB); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := c.Confirm(peerB, peerA, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := c.Request(peerA, peerC); err != nil {
		t.Fatalf("Request: %v", err)
	}
	// The A-B slot completes its key exchange; A-C stays pending.
	c.MarkKey(peerA)
	c.MarkKey(peerB)

	dropped := c.DropPeer(peerA)
	if len(dropped) != 2 {
		t.Fatalf("dropped = %d slots, want 2", len(dropped))
	}
	for _, d := range dropped {
		switch d.Partner {
		case peerB:
			if !d.WasEstablished || !d.WasActive {
				t.Errorf("active slot with B reported %+v", d)
			}
		case peerC:
			if d.WasEstablished || d.WasActive {
				t.Errorf("pending slot with C reported %+v", d)
			}
		default:
			t.Errorf("unexpected partner %d", d.Partner)
		}
	}
	if c.Count() != 0 {
		t.Errorf("slots after drop = %d, want 0", c.Count())
	}
	if dropped := c.DropPeer(peerA); len(dropped) != 0 {
		t.Errorf("second DropPeer = %+v, want none", dropped)
	}
}
