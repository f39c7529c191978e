// Package client implements the programmatic chat client: it owns the
// socket, runs the frame codec over it, matches responses to requests in
// FIFO order, and surfaces server pushes on an event channel. SecureClient
// layers the end-to-end encryption envelope on top.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/frame"
	"github.com/orcchg/ChatServer-sub000/pkg/proto"
)

// Client errors.
var (
	// ErrClosed is returned when the connection is gone.
	ErrClosed = errors.New("client: closed")

	// ErrTimeout is returned when no response arrived within
	// ResponseTimeout.
	ErrTimeout = errors.New("client: response timeout")

	// ErrNotLoggedIn is returned by session-scoped methods before a
	// successful Login or Register.
	ErrNotLoggedIn = errors.New("client: not logged in")

	// ErrUnexpectedBody is returned when a response decodes to a shape the
	// request cannot accept.
	ErrUnexpectedBody = errors.New("client: unexpected response body")
)

// StatusError is a non-success status response to a request.
type StatusError struct {
	Code   proto.Code
	Action proto.Action
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("client: %s failed: %s", e.Action, e.Code)
}

// Defaults for unset Config fields.
const (
	DefaultDialTimeout     = 5 * time.Second
	DefaultResponseTimeout = 10 * time.Second
	DefaultEventBuffer     = 32
	readBufferSize         = 4096
)

// Config configures a Client.
type Config struct {
	// Address is the server's TCP address. Unused by NewWithConn.
	Address string

	// DialTimeout bounds the connect. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// ResponseTimeout bounds one request/response round trip. Defaults to
	// DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// EventBuffer is the Events() channel capacity. When the consumer
	// lags, the oldest pending event is dropped. Defaults to
	// DefaultEventBuffer.
	EventBuffer int

	// LoggerFactory creates the client logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// Client is one connection to a chat server. Request methods are
// synchronous and safe for concurrent use; responses are matched to
// requests in send order, which the server guarantees per connection.
type Client struct {
	config Config
	log    logging.LeveledLogger
	conn   net.Conn

	events chan Event

	pendingMu sync.Mutex
	pending   []chan any
	closed    bool

	writeMu sync.Mutex

	sessMu sync.Mutex
	id     proto.ID
	token  string
	login  string

	closeOnce sync.Once
}

// New dials the server at config.Address.
func New(config Config) (*Client, error) {
	config.applyDefaults()
	conn, err := net.DialTimeout("tcp", config.Address, config.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", config.Address, err)
	}
	return NewWithConn(conn, config), nil
}

// NewWithConn wraps an established connection, as used by pipe-based tests.
func NewWithConn(conn net.Conn, config Config) *Client {
	config.applyDefaults()
	c := &Client{
		config: config,
		log:    config.LoggerFactory.NewLogger("client"),
		conn:   conn,
		events: make(chan Event, config.EventBuffer),
	}
	go c.readLoop()
	return c
}

// Events returns the push channel. It closes when the connection is gone.
func (c *Client) Events() <-chan Event {
	return c.events
}

// ID returns the session peer id, UnknownID before login.
func (c *Client) ID() proto.ID {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.id
}

// Token returns the session token, "" before login.
func (c *Client) Token() string {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.token
}

// LoginName returns the login the session was opened with, "" before login.
func (c *Client) LoginName() string {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.login
}

// Close tears the connection down. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
	return nil
}

// readLoop reassembles server frames and routes each one: responses to the
// FIFO pending queue, pushes to the event channel.
func (c *Client) readLoop() {
	defer c.shutdown()

	buf := make([]byte, readBufferSize)
	var residual []byte
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			residual = append(residual, buf[:n]...)
			frames, rest, perrs := frame.Split(residual)
			residual = rest
			for _, perr := range perrs {
				c.log.Warnf("malformed frame from server: %v", perr)
			}
			for _, f := range frames {
				c.route(f)
			}
		}
		if err != nil {
			return
		}
	}
}

// shutdown fails every pending request and closes the event channel.
func (c *Client) shutdown() {
	c.pendingMu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(c.events)
}

// route classifies one server frame by body shape and delivers it.
func (c *Client) route(f *frame.Frame) {
	v, err := decodeBody(f.Body)
	if err != nil {
		c.log.Warnf("undecodable server frame %q: %v", f.Body, err)
		return
	}

	switch b := v.(type) {
	case *proto.Status:
		if b.Code == proto.CodeTerminate {
			c.emit(Event{Kind: EventStatus, Status: b})
			return
		}
		c.deliver(v)
	case *proto.Check, *proto.PeerList:
		c.deliver(v)
	case *proto.SystemNotice:
		c.emit(Event{Kind: EventSystem, System: b})
	case *proto.Message:
		c.emit(Event{Kind: EventMessage, Message: b})
	}
}

// deliver hands a response body to the oldest pending request. A response
// with no waiter is a protocol violation and is logged and dropped.
func (c *Client) deliver(v any) {
	c.pendingMu.Lock()
	var ch chan any
	if len(c.pending) > 0 {
		ch = c.pending[0]
		c.pending = c.pending[1:]
	}
	c.pendingMu.Unlock()

	if ch == nil {
		c.log.Warnf("response with no pending request: %T", v)
		return
	}
	ch <- v
}

// emit pushes an event, dropping the oldest one when the consumer lags.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warnf("event dropped: %s", ev.Kind)
	}
}

// decodeBody probes the JSON body for its discriminating key and decodes
// it to the matching wire type.
func decodeBody(body []byte) (any, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, err
	}

	var v any
	switch {
	case probe["code"] != nil:
		v = &proto.Status{}
	case probe["check"] != nil:
		v = &proto.Check{}
	case probe["peers"] != nil:
		v = &proto.PeerList{}
	case probe["system"] != nil:
		v = &proto.SystemNotice{}
	case probe["message"] != nil:
		v = &proto.Message{}
	default:
		return nil, errors.New("client: unrecognized body shape")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, err
	}
	return v, nil
}

// roundTrip sends one request and awaits its response body.
func (c *Client) roundTrip(f *frame.Frame) (any, error) {
	ch := make(chan any, 1)
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrClosed
	}
	c.pending = append(c.pending, ch)
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	_, err := c.conn.Write(f.Encode())
	c.writeMu.Unlock()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("client: write: %w", err)
	}

	select {
	case v, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return v, nil
	case <-time.After(c.config.ResponseTimeout):
		return nil, ErrTimeout
	}
}

// roundTripStatus performs a request expecting a status response and maps
// non-success codes to StatusError.
func (c *Client) roundTripStatus(f *frame.Frame) (*proto.Status, error) {
	v, err := c.roundTrip(f)
	if err != nil {
		return nil, err
	}
	st, ok := v.(*proto.Status)
	if !ok {
		return nil, ErrUnexpectedBody
	}
	if st.Code != proto.CodeSuccess {
		return nil, &StatusError{Code: st.Code, Action: st.Action}
	}
	return st, nil
}

// Register creates an account and logs it in. On success the client holds
// the session.
func (c *Client) Register(login, email, password string) (proto.ID, error) {
	body, err := json.Marshal(&proto.RegisterForm{Login: login, Email: email, Password: password})
	if err != nil {
		return proto.UnknownID, err
	}
	st, err := c.roundTripStatus(frame.NewRequest("POST", "/register", nil, body))
	if err != nil {
		return proto.UnknownID, err
	}
	c.setSession(st.ID, st.Token, login)
	return st.ID, nil
}

// Login authenticates an existing account by login or e-mail. On success
// the client holds the session.
func (c *Client) Login(login, password string) (proto.ID, error) {
	body, err := json.Marshal(&proto.LoginForm{Login: login, Password: password})
	if err != nil {
		return proto.UnknownID, err
	}
	st, err := c.roundTripStatus(frame.NewRequest("POST", "/login", nil, body))
	if err != nil {
		return proto.UnknownID, err
	}
	c.setSession(st.ID, st.Token, login)
	return st.ID, nil
}

// Logout ends the session.
func (c *Client) Logout() error {
	id, token, err := c.session()
	if err != nil {
		return err
	}
	_, err = c.roundTripStatus(frame.NewRequest("DELETE", "/logout", sessionQuery(id, token), nil))
	if err != nil {
		return err
	}
	c.setSession(proto.UnknownID, "", "")
	return nil
}

// Send broadcasts text to the client's current channel.
func (c *Client) Send(text string) error {
	return c.SendMessage(proto.UnknownID, 0, text)
}

// SendTo sends text directly to one peer.
func (c *Client) SendTo(dst proto.ID, text string) error {
	return c.SendMessage(dst, 0, text)
}

// SendMessage sends a message with an explicit destination and encryption
// flag. SecureClient uses it to carry sealed envelopes.
func (c *Client) SendMessage(dst proto.ID, encrypted int, text string) error {
	id, token, err := c.session()
	if err != nil {
		return err
	}
	body, err := json.Marshal(&proto.Message{
		ID:        id,
		DestID:    dst,
		Timestamp: time.Now().Unix(),
		Size:      len(text),
		Encrypted: encrypted,
		Body:      text,
	})
	if err != nil {
		return err
	}
	_, err = c.roundTripStatus(frame.NewRequest("POST", "/message", sessionQuery(id, token), body))
	return err
}

// SwitchChannel moves the session to channel ch.
func (c *Client) SwitchChannel(ch int) error {
	id, token, err := c.session()
	if err != nil {
		return err
	}
	q := sessionQuery(id, token)
	q["channel"] = strconv.Itoa(ch)
	_, err = c.roundTripStatus(frame.NewRequest("PUT", "/switch_channel", q, nil))
	return err
}

// IsLoggedIn probes whether login names a live peer, returning its id when
// it does.
func (c *Client) IsLoggedIn(login string) (bool, proto.ID, error) {
	v, err := c.roundTrip(frame.NewRequest("GET", "/is_logged_in", frame.Values{"login": login}, nil))
	if err != nil {
		return false, proto.UnknownID, err
	}
	check, ok := v.(*proto.Check)
	if !ok {
		return false, proto.UnknownID, ErrUnexpectedBody
	}
	return check.Check == 1, check.ID, nil
}

// IsRegistered probes whether login names a stored account.
func (c *Client) IsRegistered(login string) (bool, error) {
	v, err := c.roundTrip(frame.NewRequest("GET", "/is_registered", frame.Values{"login": login}, nil))
	if err != nil {
		return false, err
	}
	check, ok := v.(*proto.Check)
	if !ok {
		return false, ErrUnexpectedBody
	}
	return check.Check == 1, nil
}

// AllPeers fetches the roster, optionally restricted to one channel.
func (c *Client) AllPeers(channel *int) (*proto.PeerList, error) {
	var q frame.Values
	if channel != nil {
		q = frame.Values{"channel": strconv.Itoa(*channel)}
	}
	v, err := c.roundTrip(frame.NewRequest("GET", "/all_peers", q, nil))
	if err != nil {
		return nil, err
	}
	list, ok := v.(*proto.PeerList)
	if !ok {
		return nil, ErrUnexpectedBody
	}
	return list, nil
}

// PrivateRequest asks dst to open a private session.
func (c *Client) PrivateRequest(dst proto.ID) error {
	return c.privateOp("/private_request", dst, nil)
}

// PrivateConfirm answers dst's private session request.
func (c *Client) PrivateConfirm(dst proto.ID, accept bool) error {
	a := 0
	if accept {
		a = 1
	}
	body, err := json.Marshal(&proto.ConfirmBody{Accept: a})
	if err != nil {
		return err
	}
	return c.privateOp("/private_confirm", dst, body)
}

// PrivateAbort tears the private session with dst down.
func (c *Client) PrivateAbort(dst proto.ID) error {
	return c.privateOp("/private_abort", dst, nil)
}

// SendPubKey uploads this session's public key; the server forwards it to
// every established handshake partner.
func (c *Client) SendPubKey(key string) error {
	id, token, err := c.session()
	if err != nil {
		return err
	}
	body, err := json.Marshal(&proto.PubKeyBody{Key: key})
	if err != nil {
		return err
	}
	_, err = c.roundTripStatus(frame.NewRequest("POST", "/private_pubkey", sessionQuery(id, token), body))
	return err
}

func (c *Client) privateOp(path string, dst proto.ID, body []byte) error {
	id, token, err := c.session()
	if err != nil {
		return err
	}
	q := frame.Values{
		"src_id":  strconv.FormatInt(int64(id), 10),
		"dest_id": strconv.FormatInt(int64(dst), 10),
		"token":   token,
	}
	_, err = c.roundTripStatus(frame.NewRequest("POST", path, q, body))
	return err
}

func (c *Client) setSession(id proto.ID, token, login string) {
	c.sessMu.Lock()
	c.id, c.token, c.login = id, token, login
	c.sessMu.Unlock()
}

func (c *Client) session() (proto.ID, string, error) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.id == proto.UnknownID {
		return proto.UnknownID, "", ErrNotLoggedIn
	}
	return c.id, c.token, nil
}

func sessionQuery(id proto.ID, token string) frame.Values {
	return frame.Values{
		"id":    strconv.FormatInt(int64(id), 10),
		"token": token,
	}
}
