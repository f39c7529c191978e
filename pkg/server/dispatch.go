package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orcchg/ChatServer-sub000/pkg/frame"
	"github.com/orcchg/ChatServer-sub000/pkg/handshake"
	"github.com/orcchg/ChatServer-sub000/pkg/proto"
	"github.com/orcchg/ChatServer-sub000/pkg/registry"
	"github.com/orcchg/ChatServer-sub000/pkg/router"
	"github.com/orcchg/ChatServer-sub000/pkg/transport"
)

// HandleFrame implements transport.Handler. It routes one decoded request
// to its operation; every request gets exactly one response on the
// requesting socket, written before any broadcast the request causes.
func (s *Server) HandleFrame(c transport.Conn, f *frame.Frame) {
	if f.Kind != frame.KindRequest {
		s.log.Warnf("response-shaped frame from %s ignored", c.RemoteAddr())
		return
	}
	s.log.Tracef("%s %s from %s", f.Method, f.Path, c.RemoteAddr())

	switch f.Method + " " + f.Path {
	case "GET /login":
		s.respond(c, &proto.LoginForm{})
	case "POST /login":
		s.handleLogin(c, f)
	case "GET /register":
		s.respond(c, &proto.RegisterForm{})
	case "POST /register":
		s.handleRegister(c, f)
	case "DELETE /logout":
		s.handleLogout(c, f)
	case "POST /message":
		s.handleMessage(c, f)
	case "PUT /switch_channel":
		s.handleSwitchChannel(c, f)
	case "GET /is_logged_in":
		s.handleIsLoggedIn(c, f)
	case "GET /is_registered":
		s.handleIsRegistered(c, f)
	case "GET /all_peers":
		s.handleAllPeers(c, f)
	case "POST /private_request":
		s.handlePrivateRequest(c, f)
	case "POST /private_confirm":
		s.handlePrivateConfirm(c, f)
	case "POST /private_abort":
		s.handlePrivateAbort(c, f)
	case "POST /private_pubkey":
		s.handlePrivatePubKey(c, f)
	default:
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionUnknown, proto.UnknownID, "", "")
	}
}

// HandleParseError implements transport.Handler: a malformed region is
// answered with an invalid-query status and the connection continues.
func (s *Server) HandleParseError(c transport.Conn, perr *frame.ParseError) {
	s.obs.FrameError()
	s.log.Warnf("parse error from %s: %v", c.RemoteAddr(), perr)
	s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionUnknown, proto.UnknownID, "", "")
}

// HandleDisconnect implements transport.Handler. Runs logout-on-reset:
// if the socket owned a live peer, the peer is gone afterwards, departures
// are announced, and its handshake slots are destroyed.
func (s *Server) HandleDisconnect(c transport.Conn, reason error) {
	s.log.Debugf("connection %d from %s closed: %v", c.Key(), c.RemoteAddr(), reason)
	info, owned := s.registry.LogoutOnReset(c.Key())
	if !owned {
		return
	}
	s.teardownPeer(info)
}

// teardownPeer announces a departed peer and destroys its private-session
// state. Shared by explicit logout and socket reset.
func (s *Server) teardownPeer(info registry.PeerInfo) {
	if proto.ValidChannel(info.Channel) {
		s.router.AnnounceLeave(info)
	}
	for _, d := range s.handshakes.DropPeer(info.ID) {
		s.router.ForwardSystem(d.Partner, &proto.SystemNotice{
			System:  "private session aborted",
			Action:  proto.ActionPrivateAbort,
			ID:      info.ID,
			Payload: proto.PairPayload(info.ID, d.Partner),
		})
		// Only an Active slot moved the partner to the private channel;
		// a partner still mid key exchange never left its channel.
		if d.WasActive {
			s.restorePeer(d.Partner)
		}
	}
	// Session public keys are uploaded per handshake; drop them with the
	// session.
	if err := s.keys.Delete(info.ID); err != nil {
		s.log.Errorf("delete key of %d: %v", info.ID, err)
	}
}

// restorePeer returns a peer from the private channel to the broadcast
// channel it came from and announces it there.
func (s *Server) restorePeer(id proto.ID) {
	if _, err := s.registry.LeavePrivate(id); err != nil {
		return
	}
	if p, ok := s.registry.PeerByID(id); ok && proto.ValidChannel(p.Channel) {
		s.router.AnnounceReturn(p)
	}
}

func (s *Server) handleLogin(c transport.Conn, f *frame.Frame) {
	var form proto.LoginForm
	if err := json.Unmarshal(f.Body, &form); err != nil {
		s.respondStatus(c, proto.CodeInvalidForm, proto.ActionLogin, proto.UnknownID, "", "")
		return
	}
	sess, err := s.registry.Login(form.Login, form.Password, c)
	if err != nil {
		s.respondStatus(c, statusFor(err, proto.CodeInvalidForm), proto.ActionLogin, proto.UnknownID, "", "")
		return
	}
	s.respondStatus(c, proto.CodeSuccess, proto.ActionLogin, sess.ID, sess.Token, "")
	if p, ok := s.registry.PeerByID(sess.ID); ok {
		s.router.AnnounceJoin(p)
	}
}

func (s *Server) handleRegister(c transport.Conn, f *frame.Frame) {
	var form proto.RegisterForm
	if err := json.Unmarshal(f.Body, &form); err != nil {
		s.respondStatus(c, proto.CodeInvalidForm, proto.ActionRegister, proto.UnknownID, "", "")
		return
	}
	sess, err := s.registry.Register(form.Login, form.Email, form.Password, c)
	if err != nil {
		s.respondStatus(c, statusFor(err, proto.CodeInvalidForm), proto.ActionRegister, proto.UnknownID, "", "")
		return
	}
	s.respondStatus(c, proto.CodeSuccess, proto.ActionRegister, sess.ID, sess.Token, "")
	if p, ok := s.registry.PeerByID(sess.ID); ok {
		s.router.AnnounceJoin(p)
	}
}

func (s *Server) handleLogout(c transport.Conn, f *frame.Frame) {
	id, ok := queryID(f, "id")
	if !ok {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionLogout, proto.UnknownID, "", "")
		return
	}
	if !s.authorize(c, id, f.Query.Get("token")) {
		s.respondStatus(c, proto.CodeUnauthorized, proto.ActionLogout, id, "", "")
		return
	}
	info, err := s.registry.Logout(id)
	if err != nil {
		s.respondStatus(c, statusFor(err, proto.CodeInvalidQuery), proto.ActionLogout, id, "", "")
		return
	}
	// The requester's own status goes out before the departure broadcast.
	s.respondStatus(c, proto.CodeSuccess, proto.ActionLogout, id, "", "")
	s.teardownPeer(info)
}

func (s *Server) handleMessage(c transport.Conn, f *frame.Frame) {
	var msg proto.Message
	if err := json.Unmarshal(f.Body, &msg); err != nil || msg.ID == proto.UnknownID {
		s.respondStatus(c, proto.CodeInvalidForm, proto.ActionMessage, proto.UnknownID, "", "")
		return
	}
	if !s.authorize(c, msg.ID, f.Query.Get("token")) {
		s.respondStatus(c, proto.CodeUnauthorized, proto.ActionMessage, msg.ID, "", "")
		return
	}
	p, ok := s.registry.PeerByID(msg.ID)
	if !ok {
		s.respondStatus(c, proto.CodeUnauthorized, proto.ActionMessage, msg.ID, "", "")
		return
	}
	// The sender's identity and channel are authoritative server-side.
	msg.Login = p.Login
	msg.Email = p.Email
	msg.Channel = p.Channel

	if msg.IsEncrypted() {
		if !s.config.EnableE2EE || !msg.IsDirect() {
			s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionMessage, msg.ID, "", "")
			return
		}
		if !s.handshakes.Authorized(msg.ID, msg.DestID) {
			s.respondStatus(c, proto.CodeUnauthorized, proto.ActionMessage, msg.ID, "", "")
			return
		}
	}

	if msg.IsDirect() {
		if _, err := s.router.Broadcast(&msg); err != nil {
			s.respondStatus(c, statusFor(err, proto.CodeInvalidQuery), proto.ActionMessage, msg.ID, "", "")
			return
		}
		s.respondStatus(c, proto.CodeSuccess, proto.ActionMessage, msg.ID, "", "")
		return
	}
	s.respondStatus(c, proto.CodeSuccess, proto.ActionMessage, msg.ID, "", "")
	s.router.Broadcast(&msg)
}

func (s *Server) handleSwitchChannel(c transport.Conn, f *frame.Frame) {
	id, okID := queryID(f, "id")
	ch, errCh := f.Query.Int("channel")
	if !okID || errCh != nil {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionSwitchChannel, proto.UnknownID, "", "")
		return
	}
	if !s.authorize(c, id, f.Query.Get("token")) {
		s.respondStatus(c, proto.CodeUnauthorized, proto.ActionSwitchChannel, id, "", "")
		return
	}
	old, err := s.registry.SwitchChannel(id, ch)
	if err != nil {
		s.respondStatus(c, statusFor(err, proto.CodeInvalidQuery), proto.ActionSwitchChannel, id, "", "")
		return
	}
	s.respondStatus(c, proto.CodeSuccess, proto.ActionSwitchChannel, id, "", "")
	if p, ok := s.registry.PeerByID(id); ok {
		s.router.AnnounceMove(p, old)
	}
}

func (s *Server) handleIsLoggedIn(c transport.Conn, f *frame.Frame) {
	login := f.Query.Get("login")
	if login == "" {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionIsLoggedIn, proto.UnknownID, "", "")
		return
	}
	check := &proto.Check{Action: proto.ActionIsLoggedIn}
	if s.registry.IsLoggedIn(login) {
		check.Check = 1
		if p, ok := s.registry.PeerByLogin(login); ok {
			check.ID = p.ID
		}
	}
	s.respond(c, check)
}

func (s *Server) handleIsRegistered(c transport.Conn, f *frame.Frame) {
	login := f.Query.Get("login")
	if login == "" {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionIsRegistered, proto.UnknownID, "", "")
		return
	}
	registered, err := s.registry.IsRegistered(login)
	if err != nil {
		s.log.Errorf("is_registered(%s): %v", login, err)
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionIsRegistered, proto.UnknownID, "", "")
		return
	}
	check := &proto.Check{Action: proto.ActionIsRegistered}
	if registered {
		check.Check = 1
	}
	s.respond(c, check)
}

func (s *Server) handleAllPeers(c transport.Conn, f *frame.Frame) {
	var channel *int
	if f.Query.Has("channel") {
		ch, err := f.Query.Int("channel")
		if err != nil || !proto.ValidChannel(ch) {
			s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionAllPeers, proto.UnknownID, "", "")
			return
		}
		channel = &ch
	}
	s.respond(c, s.router.Roster(channel))
}

func (s *Server) handlePrivateRequest(c transport.Conn, f *frame.Frame) {
	src, dst, ok := s.privatePair(c, f, proto.ActionPrivateRequest)
	if !ok {
		return
	}
	dstInfo, live := s.registry.PeerByID(dst)
	if !live {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionPrivateRequest, src, "", "")
		return
	}
	created, err := s.handshakes.Request(src, dst)
	if err != nil {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionPrivateRequest, src, "", "")
		return
	}
	s.respondStatus(c, proto.CodeSuccess, proto.ActionPrivateRequest, src, "", "")
	if !created {
		return
	}
	srcInfo, _ := s.registry.PeerByID(src)
	s.router.ForwardSystem(dstInfo.ID, &proto.SystemNotice{
		System:  fmt.Sprintf("%s requests a private session", srcInfo.Login),
		Action:  proto.ActionPrivateRequest,
		ID:      src,
		Payload: proto.PairPayload(src, dst),
	})
}

func (s *Server) handlePrivateConfirm(c transport.Conn, f *frame.Frame) {
	src, dst, ok := s.privatePair(c, f, proto.ActionPrivateConfirm)
	if !ok {
		return
	}
	var body proto.ConfirmBody
	if err := json.Unmarshal(f.Body, &body); err != nil {
		s.respondStatus(c, proto.CodeInvalidForm, proto.ActionPrivateConfirm, src, "", "")
		return
	}
	accept := body.Accept == 1
	res, err := s.handshakes.Confirm(src, dst, accept)
	if err != nil {
		s.respondStatus(c, statusFor(err, proto.CodeInvalidQuery), proto.ActionPrivateConfirm, src, "", "")
		return
	}
	s.respondStatus(c, proto.CodeSuccess, proto.ActionPrivateConfirm, src, "", "")

	verdict := "declined"
	if res.Accepted {
		verdict = "accepted"
	}
	srcInfo, _ := s.registry.PeerByID(src)
	s.router.ForwardSystem(res.Initiator, &proto.SystemNotice{
		System:  fmt.Sprintf("%s %s the private session", srcInfo.Login, verdict),
		Action:  proto.ActionPrivateConfirm,
		ID:      src,
		Payload: proto.PairPayloadAccept(src, dst, res.Accepted),
	})
}

func (s *Server) handlePrivateAbort(c transport.Conn, f *frame.Frame) {
	src, dst, ok := s.privatePair(c, f, proto.ActionPrivateAbort)
	if !ok {
		return
	}
	state, existed := s.handshakes.Abort(src, dst)
	if !existed {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionPrivateAbort, src, "", "")
		return
	}
	s.respondStatus(c, proto.CodeSuccess, proto.ActionPrivateAbort, src, "", "")

	s.router.ForwardSystem(dst, &proto.SystemNotice{
		System:  "private session aborted",
		Action:  proto.ActionPrivateAbort,
		ID:      src,
		Payload: proto.PairPayload(src, dst),
	})
	if state == handshake.StateActive {
		s.restorePeer(src)
		s.restorePeer(dst)
	}
}

func (s *Server) handlePrivatePubKey(c transport.Conn, f *frame.Frame) {
	if !s.config.EnableE2EE {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionPrivatePubKey, proto.UnknownID, "", "")
		return
	}
	id, ok := queryID(f, "id")
	if !ok {
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionPrivatePubKey, proto.UnknownID, "", "")
		return
	}
	var body proto.PubKeyBody
	if err := json.Unmarshal(f.Body, &body); err != nil || body.Key == "" {
		s.respondStatus(c, proto.CodeInvalidForm, proto.ActionPrivatePubKey, id, "", "")
		return
	}
	if !s.authorize(c, id, f.Query.Get("token")) {
		s.respondStatus(c, proto.CodeUnauthorized, proto.ActionPrivatePubKey, id, "", "")
		return
	}
	// A key upload is only meaningful inside an accepted handshake; no
	// established slot means nothing to store or forward.
	forwards := s.handshakes.MarkKey(id)
	if len(forwards) == 0 {
		s.respondStatus(c, proto.CodeUnauthorized, proto.ActionPrivatePubKey, id, "", "")
		return
	}
	// The key bytes are opaque: stored and forwarded verbatim.
	if err := s.keys.Put(id, body.Key); err != nil {
		s.log.Errorf("store key of %d: %v", id, err)
		s.respondStatus(c, proto.CodeInvalidQuery, proto.ActionPrivatePubKey, id, "", "")
		return
	}
	s.respondStatus(c, proto.CodeSuccess, proto.ActionPrivatePubKey, id, "", "")

	for _, fw := range forwards {
		s.router.ForwardSystem(fw.Partner, &proto.SystemNotice{
			System:  "public key",
			Action:  proto.ActionPrivatePubKey,
			ID:      id,
			Payload: body.Key,
		})
		if fw.NowActive {
			s.activatePrivate(id, fw.Partner)
		}
	}
}

// activatePrivate hides both peers of a newly active private session from
// their broadcast channels.
func (s *Server) activatePrivate(a, b proto.ID) {
	prevA, prevB, err := s.registry.EnterPrivate(a, b)
	if err != nil {
		s.log.Warnf("enter private %d<->%d: %v", a, b, err)
		return
	}
	if pa, ok := s.registry.PeerByID(a); ok && proto.ValidChannel(prevA) {
		s.router.AnnounceHidden(pa, prevA)
	}
	if pb, ok := s.registry.PeerByID(b); ok && proto.ValidChannel(prevB) {
		s.router.AnnounceHidden(pb, prevB)
	}
}

// privatePair parses src_id/dest_id, gates on E2EE support, and authorizes
// the source. On failure the response has already been written.
func (s *Server) privatePair(c transport.Conn, f *frame.Frame, action proto.Action) (src, dst proto.ID, ok bool) {
	if !s.config.EnableE2EE {
		s.respondStatus(c, proto.CodeInvalidQuery, action, proto.UnknownID, "", "")
		return 0, 0, false
	}
	src, okSrc := queryID(f, "src_id")
	dst, okDst := queryID(f, "dest_id")
	if !okSrc || !okDst {
		s.respondStatus(c, proto.CodeInvalidQuery, action, proto.UnknownID, "", "")
		return 0, 0, false
	}
	if !s.authorize(c, src, f.Query.Get("token")) {
		s.respondStatus(c, proto.CodeUnauthorized, action, src, "", "")
		return 0, 0, false
	}
	return src, dst, true
}

// authorize checks that the requesting socket may act as id: either the
// socket owns the session, or the request carries the session token, in
// which case the session is re-bound to this socket (reconnection).
func (s *Server) authorize(c transport.Conn, id proto.ID, token string) bool {
	if s.registry.OwnsSocket(id, c.Key()) {
		return true
	}
	if token == "" {
		return false
	}
	return s.registry.Rebind(id, token, c) == nil
}

// respond writes one JSON body as a response frame on the socket. Enqueue
// failure tears the connection down; the disconnect path cleans up.
func (s *Server) respond(c transport.Conn, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.Errorf("encode response: %v", err)
		return
	}
	if err := c.Enqueue(frame.NewResponse(body).Encode()); err != nil {
		s.log.Warnf("respond to %s failed, tearing down: %v", c.RemoteAddr(), err)
		s.obs.QueueOverflow()
		c.Close()
	}
}

func (s *Server) respondStatus(c transport.Conn, code proto.Code, action proto.Action, id proto.ID, token, payload string) {
	s.respond(c, &proto.Status{Code: code, Action: action, ID: id, Token: token, Payload: payload})
}

// queryID parses a peer id query parameter.
func queryID(f *frame.Frame, key string) (proto.ID, bool) {
	n, err := f.Query.Int64(key)
	if err != nil || n <= 0 {
		return proto.UnknownID, false
	}
	return proto.ID(n), true
}

// statusFor maps an operation error to the wire status code. Errors with
// no mapping of their own (store or I/O failures) take the fallback of the
// request kind: form-bodied requests report InvalidForm, query-driven ones
// InvalidQuery.
func statusFor(err error, fallback proto.Code) proto.Code {
	switch {
	case errors.Is(err, registry.ErrInvalidForm):
		return proto.CodeInvalidForm
	case errors.Is(err, registry.ErrNotRegistered):
		return proto.CodeNotRegistered
	case errors.Is(err, registry.ErrWrongPassword):
		return proto.CodeWrongPassword
	case errors.Is(err, registry.ErrAlreadyRegistered):
		return proto.CodeAlreadyRegistered
	case errors.Is(err, registry.ErrAlreadyLoggedIn):
		return proto.CodeAlreadyLoggedIn
	case errors.Is(err, registry.ErrUnauthorized), errors.Is(err, handshake.ErrUnauthorized):
		return proto.CodeUnauthorized
	case errors.Is(err, registry.ErrWrongChannel):
		return proto.CodeWrongChannel
	case errors.Is(err, registry.ErrSameChannel):
		return proto.CodeSameChannel
	case errors.Is(err, router.ErrPeerOffline):
		return proto.CodeInvalidQuery
	case errors.Is(err, handshake.ErrNoSlot), errors.Is(err, handshake.ErrSamePeer):
		return proto.CodeInvalidQuery
	default:
		return fallback
	}
}
