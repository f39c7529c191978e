// Package router implements the fan-out layer of the chat server: it
// delivers chat messages, presence announcements and forwarded handshake
// notices to the sockets that should see them.
//
// The router holds no peer state. It reads the registry through the narrow
// Roster interface, encodes each event once, and enqueues the bytes to each
// destination outside any lock. Delivery is best-effort: a full or closed
// queue tears that one socket down and the rest of the fan-out proceeds.
package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/frame"
	"github.com/orcchg/ChatServer-sub000/pkg/observability"
	"github.com/orcchg/ChatServer-sub000/pkg/proto"
	"github.com/orcchg/ChatServer-sub000/pkg/registry"
)

// Router errors.
var (
	// ErrPeerOffline is returned when a direct message names an id with no
	// live session.
	ErrPeerOffline = errors.New("router: destination peer offline")
)

// Roster is the registry surface the router reads. *registry.Manager
// satisfies it.
type Roster interface {
	PeerByID(id proto.ID) (registry.PeerInfo, bool)
	SocketsOnChannel(ch int, except proto.ID) []registry.Socket
	SocketOf(id proto.ID) (registry.Socket, bool)
	ListPeers(channel *int) []registry.PeerInfo
	AllSockets() []registry.Socket
}

// Config configures the Router.
type Config struct {
	// Roster is the registry view. Required.
	Roster Roster

	// LoggerFactory creates the router logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory

	// Observer receives delivery events. Defaults to a no-op.
	Observer observability.Observer
}

// Router fans frames out to subscribers. Safe for concurrent use; it keeps
// no mutable state of its own.
type Router struct {
	roster Roster
	log    logging.LeveledLogger
	obs    observability.Observer
}

// New creates a Router.
func New(config Config) (*Router, error) {
	if config.Roster == nil {
		return nil, errors.New("router: roster required")
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.Observer == nil {
		config.Observer = observability.Noop{}
	}
	return &Router{
		roster: config.Roster,
		log:    config.LoggerFactory.NewLogger("router"),
		obs:    config.Observer,
	}, nil
}

// Broadcast delivers msg. With dest_id set it is unicast to that peer
// regardless of channel; otherwise every peer on msg.Channel except the
// sender receives it. Returns the number of sockets reached.
func (r *Router) Broadcast(msg *proto.Message) (int, error) {
	if msg.IsDirect() {
		if err := r.ForwardMessage(msg.DestID, msg); err != nil {
			return 0, err
		}
		return 1, nil
	}

	b, err := encodeBody(msg)
	if err != nil {
		return 0, err
	}
	socks := r.roster.SocketsOnChannel(msg.Channel, msg.ID)
	delivered := 0
	for _, s := range socks {
		if r.enqueue(s, b) {
			delivered++
		}
	}
	r.log.Tracef("broadcast from %d on channel %d reached %d peers", msg.ID, msg.Channel, delivered)
	r.obs.MessageRouted("broadcast", delivered)
	return delivered, nil
}

// ForwardMessage unicasts msg to dst. The body is never inspected, so
// E2EE ciphertext passes through opaquely.
func (r *Router) ForwardMessage(dst proto.ID, msg *proto.Message) error {
	sock, ok := r.roster.SocketOf(dst)
	if !ok {
		return ErrPeerOffline
	}
	b, err := encodeBody(msg)
	if err != nil {
		return err
	}
	if !r.enqueue(sock, b) {
		return ErrPeerOffline
	}
	kind := "direct"
	if msg.IsEncrypted() {
		kind = "private"
	}
	r.obs.MessageRouted(kind, 1)
	return nil
}

// ForwardSystem unicasts a system notice to dst. Used for private
// handshake events addressed to one peer.
func (r *Router) ForwardSystem(dst proto.ID, n *proto.SystemNotice) error {
	sock, ok := r.roster.SocketOf(dst)
	if !ok {
		return ErrPeerOffline
	}
	b, err := encodeBody(n)
	if err != nil {
		return err
	}
	if !r.enqueue(sock, b) {
		return ErrPeerOffline
	}
	return nil
}

// AnnounceJoin tells every peer on p's channel that p has appeared.
func (r *Router) AnnounceJoin(p registry.PeerInfo) {
	r.announce(p, p.Channel, proto.ActionLogin, proto.MoveEnter,
		fmt.Sprintf("%s has joined", p.Login))
}

// AnnounceLeave tells every peer on p's channel that p has gone.
func (r *Router) AnnounceLeave(p registry.PeerInfo) {
	r.announce(p, p.Channel, proto.ActionLogout, proto.MoveExit,
		fmt.Sprintf("%s has left", p.Login))
}

// AnnounceMove tells the old channel that p has left it and the new
// channel that p has entered. p carries the new channel.
func (r *Router) AnnounceMove(p registry.PeerInfo, oldChannel int) {
	r.announce(p, oldChannel, proto.ActionSwitchChannel, proto.MoveExit,
		fmt.Sprintf("%s has exited", p.Login))
	r.announce(p, p.Channel, proto.ActionSwitchChannel, proto.MoveEnter,
		fmt.Sprintf("%s has entered", p.Login))
}

// AnnounceReturn tells p's channel that p is visible again after a private
// session ended.
func (r *Router) AnnounceReturn(p registry.PeerInfo) {
	r.announce(p, p.Channel, proto.ActionSwitchChannel, proto.MoveEnter,
		fmt.Sprintf("%s has entered", p.Login))
}

// AnnounceHidden tells ch that p is no longer visible there because a
// private session became active.
func (r *Router) AnnounceHidden(p registry.PeerInfo, ch int) {
	r.announce(p, ch, proto.ActionSwitchChannel, proto.MoveExit,
		fmt.Sprintf("%s has exited", p.Login))
}

// announce encodes one system frame and fans it out to ch, excluding the
// subject peer.
func (r *Router) announce(p registry.PeerInfo, ch int, action proto.Action, move proto.ChannelMove, text string) {
	if !proto.ValidChannel(ch) {
		return
	}
	n := &proto.SystemNotice{
		System:  text,
		Action:  action,
		ID:      p.ID,
		Payload: proto.SystemPayload(p.Login, p.Email, move),
	}
	b, err := encodeBody(n)
	if err != nil {
		r.log.Errorf("encode system notice: %v", err)
		return
	}
	for _, s := range r.roster.SocketsOnChannel(ch, p.ID) {
		r.enqueue(s, b)
	}
}

// AnnounceTerminate sends the code-99 status to every live peer. Called
// once during server shutdown, before the listeners close.
func (r *Router) AnnounceTerminate(payload string) {
	st := &proto.Status{
		Code:    proto.CodeTerminate,
		Action:  proto.ActionUnknown,
		ID:      proto.ServerID,
		Token:   "",
		Payload: payload,
	}
	b, err := encodeBody(st)
	if err != nil {
		r.log.Errorf("encode terminate status: %v", err)
		return
	}
	socks := r.roster.AllSockets()
	for _, s := range socks {
		r.enqueue(s, b)
	}
	r.log.Infof("termination broadcast to %d peers", len(socks))
}

// Roster answers /all_peers: the live peers, optionally restricted to one
// channel.
func (r *Router) Roster(channel *int) *proto.PeerList {
	peers := r.roster.ListPeers(channel)
	list := &proto.PeerList{Peers: make([]proto.PeerEntry, 0, len(peers)), Channel: channel}
	for _, p := range peers {
		list.Peers = append(list.Peers, proto.PeerEntry{ID: p.ID, Login: p.Login, Channel: p.Channel})
	}
	return list
}

// enqueue pushes one encoded frame to a socket. Failure marks the socket
// for teardown; the disconnect path runs logout-on-reset.
func (r *Router) enqueue(s registry.Socket, b []byte) bool {
	if err := s.Enqueue(b); err != nil {
		r.log.Warnf("enqueue to %s failed, tearing down: %v", s.RemoteAddr(), err)
		r.obs.QueueOverflow()
		s.Close()
		return false
	}
	return true
}

// encodeBody renders v as the body of a 200 OK response frame.
func encodeBody(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("router: encode body: %w", err)
	}
	return frame.NewResponse(body).Encode(), nil
}
