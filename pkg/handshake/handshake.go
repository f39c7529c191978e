// Package handshake coordinates the two-party private-session state
// machine: request, confirm or reject, public key exchange, active
// session, abort. The coordinator holds only peer ids and per-pair state;
// it never sees sockets, key bytes or message plaintext. Key storage and
// frame forwarding happen in the server layer, which also sequences this
// package against the registry so their locks are never held together.
package handshake

import (
	"errors"
	"sync"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/observability"
	"github.com/orcchg/ChatServer-sub000/pkg/proto"
)

// Handshake errors.
var (
	// ErrSamePeer rejects a handshake of a peer with itself.
	ErrSamePeer = errors.New("handshake: src and dest are the same peer")

	// ErrNoSlot is returned when a confirm or abort names a pair with no
	// pending handshake.
	ErrNoSlot = errors.New("handshake: no slot for pair")

	// ErrUnauthorized is returned when the sender may not drive the slot
	// into the requested state (wrong side confirming, key or message
	// traffic without an established slot).
	ErrUnauthorized = errors.New("handshake: unauthorized for pair")
)

// State is the lifecycle state of one handshake slot. StateIdle is the
// absence of a slot.
type State int

const (
	// StateIdle means no handshake exists for the pair.
	StateIdle State = iota

	// StatePendingConfirm means the request was forwarded to the
	// responder and no answer has arrived.
	StatePendingConfirm

	// StatePendingKeys means the responder accepted and fewer than two
	// public keys have been observed.
	StatePendingKeys

	// StateActive means both keys were observed; private messages may
	// flow.
	StateActive
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePendingConfirm:
		return "PendingConfirm"
	case StatePendingKeys:
		return "PendingKeys"
	case StateActive:
		return "Active"
	default:
		return "Unknown"
	}
}

// Established reports whether key or private-message traffic is allowed.
func (s State) Established() bool {
	return s == StatePendingKeys || s == StateActive
}

// pairKey identifies the unordered peer pair of a slot.
type pairKey struct {
	lo, hi proto.ID
}

func keyOf(a, b proto.ID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// slot is the per-pair handshake record.
type slot struct {
	initiator proto.ID
	responder proto.ID
	state     State

	// keySeen tracks which sides have submitted their public key.
	keySeen map[proto.ID]bool
}

func (s *slot) partnerOf(id proto.ID) proto.ID {
	if id == s.initiator {
		return s.responder
	}
	return s.initiator
}

func (s *slot) holds(id proto.ID) bool {
	return id == s.initiator || id == s.responder
}

// Result is the outcome of a Confirm call.
type Result struct {
	// Accepted is true when the responder accepted and the slot moved to
	// PendingKeys.
	Accepted bool

	// Initiator is the peer that sent the original request, to whom the
	// answer must be forwarded.
	Initiator proto.ID
}

// KeyForward describes one forwarding obligation created by MarkKey.
type KeyForward struct {
	// Partner is the peer the key must be forwarded to.
	Partner proto.ID

	// NowActive is true when this key completed the exchange and the
	// slot just became Active.
	NowActive bool
}

// Dropped describes one slot destroyed by DropPeer.
type Dropped struct {
	// Partner is the surviving peer of the destroyed slot.
	Partner proto.ID

	// WasEstablished is true when the slot was in PendingKeys or Active.
	WasEstablished bool

	// WasActive is true when the slot was Active, meaning the partner sits
	// on the private channel and needs its presence restored.
	WasActive bool
}

// Config configures the Coordinator.
type Config struct {
	// LoggerFactory creates the handshake logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory

	// Observer receives handshake transition events. Defaults to a no-op.
	Observer observability.Observer
}

// Coordinator runs the private-session state machines, one slot per
// unordered peer pair. Safe for concurrent use behind its own mutex,
// which is disjoint from the registry lock.
type Coordinator struct {
	log logging.LeveledLogger
	obs observability.Observer

	mu    sync.Mutex
	slots map[pairKey]*slot
}

// New creates a Coordinator.
func New(config Config) *Coordinator {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.Observer == nil {
		config.Observer = observability.Noop{}
	}
	return &Coordinator{
		log:   config.LoggerFactory.NewLogger("handshake"),
		obs:   config.Observer,
		slots: make(map[pairKey]*slot),
	}
}

// Request opens a handshake from src to dst. A duplicate request for an
// existing slot is a no-op with created == false.
func (c *Coordinator) Request(src, dst proto.ID) (created bool, err error) {
	if src == dst {
		return false, ErrSamePeer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := keyOf(src, dst)
	if _, exists := c.slots[k]; exists {
		return false, nil
	}
	c.slots[k] = &slot{
		initiator: src,
		responder: dst,
		state:     StatePendingConfirm,
		keySeen:   make(map[proto.ID]bool, 2),
	}
	c.log.Debugf("slot %d<->%d: PendingConfirm", src, dst)
	c.obs.HandshakeEvent("requested")
	return true, nil
}

// Confirm answers a pending request. src must be the responder the request
// was addressed to. Accepting moves the slot to PendingKeys; rejecting
// destroys it. Either way the answer must be forwarded to Result.Initiator.
func (c *Coordinator) Confirm(src, dst proto.ID, accept bool) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := keyOf(src, dst)
	s, exists := c.slots[k]
	if !exists {
		return Result{}, ErrNoSlot
	}
	if s.state != StatePendingConfirm || src != s.responder {
		return Result{}, ErrUnauthorized
	}

	res := Result{Accepted: accept, Initiator: s.initiator}
	if accept {
		s.state = StatePendingKeys
		c.log.Debugf("slot %d<->%d: PendingKeys", s.initiator, s.responder)
		c.obs.HandshakeEvent("confirmed")
	} else {
		delete(c.slots, k)
		c.log.Debugf("slot %d<->%d: rejected", s.initiator, s.responder)
		c.obs.HandshakeEvent("rejected")
	}
	return res, nil
}

// Abort destroys the slot for the pair, whatever its state. Returns the
// state the slot was in and whether one existed. src must be a member.
func (c *Coordinator) Abort(src, dst proto.ID) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := keyOf(src, dst)
	s, exists := c.slots[k]
	if !exists || !s.holds(src) {
		return StateIdle, false
	}
	delete(c.slots, k)
	c.log.Debugf("slot %d<->%d: aborted from %v", s.initiator, s.responder, s.state)
	c.obs.HandshakeEvent("aborted")
	return s.state, true
}

// MarkKey records that owner submitted its public key and returns one
// forwarding obligation per established slot owner participates in. A slot
// whose both sides have now been observed transitions to Active.
func (c *Coordinator) MarkKey(owner proto.ID) []KeyForward {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []KeyForward
	for _, s := range c.slots {
		if !s.holds(owner) || !s.state.Established() {
			continue
		}
		s.keySeen[owner] = true
		fw := KeyForward{Partner: s.partnerOf(owner)}
		if s.state == StatePendingKeys && s.keySeen[s.initiator] && s.keySeen[s.responder] {
			s.state = StateActive
			fw.NowActive = true
			c.log.Debugf("slot %d<->%d: Active", s.initiator, s.responder)
			c.obs.HandshakeEvent("active")
		}
		out = append(out, fw)
	}
	return out
}

// Authorized reports whether private traffic between src and dst is
// allowed: an established (PendingKeys or Active) slot joins the pair.
func (c *Coordinator) Authorized(src, dst proto.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, exists := c.slots[keyOf(src, dst)]
	return exists && s.state.Established()
}

// State returns the slot state for the pair, StateIdle when none exists.
func (c *Coordinator) State(a, b proto.ID) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, exists := c.slots[keyOf(a, b)]
	if !exists {
		return StateIdle
	}
	return s.state
}

// DropPeer destroys every slot id participates in, as on logout. The
// returned records name the surviving partners to notify.
func (c *Coordinator) DropPeer(id proto.ID) []Dropped {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Dropped
	for k, s := range c.slots {
		if !s.holds(id) {
			continue
		}
		delete(c.slots, k)
		out = append(out, Dropped{
			Partner:        s.partnerOf(id),
			WasEstablished: s.state.Established(),
			WasActive:      s.state == StateActive,
		})
		c.obs.HandshakeEvent("aborted")
	}
	if len(out) > 0 {
		c.log.Debugf("dropped %d slot(s) of peer %d", len(out), id)
	}
	return out
}

// Count returns the number of live slots.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
