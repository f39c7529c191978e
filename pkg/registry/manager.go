// Package registry keeps the live peer table of the chat server: which
// account is logged in, on which socket, with which token, and on which
// channel. It enforces the one-live-peer-per-account invariant and drives
// logout cleanup for abrupt disconnects.
//
// The per-channel subscriber index lives behind the same lock as the peer
// table; the two change together on join, leave and move. The router reads
// both through narrow accessors and never retains peer records.
package registry

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/chatcrypto"
	"github.com/orcchg/ChatServer-sub000/pkg/observability"
	"github.com/orcchg/ChatServer-sub000/pkg/proto"
	"github.com/orcchg/ChatServer-sub000/pkg/store"
)

// Config configures the registry Manager.
type Config struct {
	// Accounts is the backing account store. Required.
	Accounts store.AccountStore

	// LoggerFactory creates the registry logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory

	// Observer receives login/logout events. Defaults to a no-op.
	Observer observability.Observer
}

// Manager owns the live peer table and its indexes. All methods are safe
// for concurrent use. No method performs I/O while holding the lock; store
// calls happen before the table mutates.
type Manager struct {
	accounts store.AccountStore
	log      logging.LeveledLogger
	obs      observability.Observer

	mu       sync.RWMutex
	peers    map[proto.ID]*peer
	byLogin  map[string]proto.ID
	byEmail  map[string]proto.ID
	bySocket map[uint64]proto.ID

	// channels indexes live peers by broadcast channel. Peers inside a
	// private session are absent from every set.
	channels map[int]map[proto.ID]struct{}
}

// New creates a registry Manager.
func New(config Config) (*Manager, error) {
	if config.Accounts == nil {
		return nil, errors.New("registry: account store required")
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.Observer == nil {
		config.Observer = observability.Noop{}
	}

	return &Manager{
		accounts: config.Accounts,
		log:      config.LoggerFactory.NewLogger("registry"),
		obs:      config.Observer,
		peers:    make(map[proto.ID]*peer),
		byLogin:  make(map[string]proto.ID),
		byEmail:  make(map[string]proto.ID),
		bySocket: make(map[uint64]proto.ID),
		channels: make(map[int]map[proto.ID]struct{}),
	}, nil
}

// Register validates the form, creates the account and atomically promotes
// it to a live peer on sock.
func (m *Manager) Register(login, email, password string, sock Socket) (Session, error) {
	if !proto.ValidLogin(login) || !proto.ValidEmail(email) || password == "" {
		return Session{}, ErrInvalidForm
	}

	hash, err := chatcrypto.HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("registry: hash password: %w", err)
	}

	acc, err := m.accounts.Create(login, email, hash)
	switch {
	case errors.Is(err, store.ErrDuplicateLogin), errors.Is(err, store.ErrDuplicateEmail):
		return Session{}, ErrAlreadyRegistered
	case err != nil:
		return Session{}, fmt.Errorf("registry: create account: %w", err)
	}

	return m.promote(acc, sock)
}

// Login authenticates by login or e-mail (the loginOrEmail field accepts
// either) and promotes the account to a live peer on sock. A live session
// for the same account rejects with ErrAlreadyLoggedIn and is undisturbed.
func (m *Manager) Login(loginOrEmail, password string, sock Socket) (Session, error) {
	if loginOrEmail == "" || password == "" {
		return Session{}, ErrInvalidForm
	}

	acc, found, err := m.accounts.ByLogin(loginOrEmail)
	if err != nil {
		return Session{}, fmt.Errorf("registry: account lookup: %w", err)
	}
	if !found && strings.ContainsRune(loginOrEmail, '@') {
		acc, found, err = m.accounts.ByEmail(loginOrEmail)
		if err != nil {
			return Session{}, fmt.Errorf("registry: account lookup: %w", err)
		}
	}
	if !found {
		return Session{}, ErrNotRegistered
	}
	if !chatcrypto.CheckPassword(acc.PasswordHash, password) {
		return Session{}, ErrWrongPassword
	}

	return m.promote(acc, sock)
}

// promote installs a live peer for acc on sock and joins the default
// channel. Token generation happens before the lock is taken.
func (m *Manager) promote(acc store.Account, sock Socket) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, fmt.Errorf("registry: token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, live := m.peers[acc.ID]; live {
		return Session{}, ErrAlreadyLoggedIn
	}
	if _, live := m.byLogin[acc.Login]; live {
		return Session{}, ErrAlreadyLoggedIn
	}
	if _, live := m.byEmail[acc.Email]; live {
		return Session{}, ErrAlreadyLoggedIn
	}
	if _, owned := m.bySocket[sock.Key()]; owned {
		return Session{}, ErrAlreadyLoggedIn
	}

	p := &peer{
		id:      acc.ID,
		login:   acc.Login,
		email:   acc.Email,
		token:   token,
		sock:    sock,
		channel: proto.ChannelDefault,
	}
	m.peers[p.id] = p
	m.byLogin[p.login] = p.id
	m.byEmail[p.email] = p.id
	m.bySocket[sock.Key()] = p.id
	m.joinLocked(p.id, p.channel)

	m.log.Infof("peer %d (%s) logged in from %s", p.id, p.login, sock.RemoteAddr())
	m.obs.PeerLoggedIn()
	return Session{ID: p.id, Token: token, Channel: p.channel}, nil
}

// Logout removes the live peer for id. The returned PeerInfo carries the
// channel the peer was on, for the departure announcement.
func (m *Manager) Logout(id proto.ID) (PeerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok {
		return PeerInfo{}, ErrUnauthorized
	}
	info := p.info()
	m.removeLocked(p)
	m.log.Infof("peer %d (%s) logged out", info.ID, info.Login)
	return info, nil
}

// LogoutOnReset removes the peer owning the socket, if any. Idempotent:
// the connection loop may observe both an explicit logout and the
// subsequent socket reset.
func (m *Manager) LogoutOnReset(sockKey uint64) (PeerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySocket[sockKey]
	if !ok {
		return PeerInfo{}, false
	}
	p := m.peers[id]
	info := p.info()
	m.removeLocked(p)
	m.log.Infof("peer %d (%s) logged out on socket reset", info.ID, info.Login)
	return info, true
}

// removeLocked drops a peer from every index. Caller holds the lock.
func (m *Manager) removeLocked(p *peer) {
	delete(m.peers, p.id)
	delete(m.byLogin, p.login)
	delete(m.byEmail, p.email)
	delete(m.bySocket, p.sock.Key())
	m.leaveLocked(p.id, p.channel)
	p.token = EmptyToken
	m.obs.PeerLoggedOut()
}

// Authorize reports whether id names a live peer holding token.
func (m *Manager) Authorize(id proto.ID, token string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.peers[id]
	if !ok || token == EmptyToken {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p.token), []byte(token)) == 1
}

// OwnsSocket reports whether the live peer for id owns the socket key.
func (m *Manager) OwnsSocket(id proto.ID, sockKey uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.peers[id]
	return ok && p.sock.Key() == sockKey
}

// Rebind moves a live session to a new socket when the caller proves
// ownership with the session token. Supports reconnection after a dropped
// connection whose reset has not been observed yet.
func (m *Manager) Rebind(id proto.ID, token string, sock Socket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok || token == EmptyToken ||
		subtle.ConstantTimeCompare([]byte(p.token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	if owner, owned := m.bySocket[sock.Key()]; owned && owner != id {
		return ErrAlreadyLoggedIn
	}
	delete(m.bySocket, p.sock.Key())
	p.sock = sock
	m.bySocket[sock.Key()] = id
	m.log.Debugf("peer %d rebound to %s", id, sock.RemoteAddr())
	return nil
}

// SwitchChannel moves the peer to ch and returns the channel it left.
func (m *Manager) SwitchChannel(id proto.ID, ch int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok {
		return 0, ErrUnauthorized
	}
	if !proto.ValidChannel(ch) || p.channel == proto.ChannelPrivate {
		return 0, ErrWrongChannel
	}
	if p.channel == ch {
		return 0, ErrSameChannel
	}

	old := p.channel
	m.leaveLocked(id, old)
	p.channel = ch
	m.joinLocked(id, ch)
	m.log.Debugf("peer %d moved %d -> %d", id, old, ch)
	return old, nil
}

// EnterPrivate moves both peers of a newly active private session to the
// reserved private channel, recording the channels they came from.
func (m *Manager) EnterPrivate(a, b proto.ID) (prevA, prevB int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pa, oka := m.peers[a]
	pb, okb := m.peers[b]
	if !oka || !okb {
		return 0, 0, ErrUnauthorized
	}

	prevA, prevB = pa.channel, pb.channel
	for _, p := range []*peer{pa, pb} {
		if p.channel == proto.ChannelPrivate {
			continue
		}
		m.leaveLocked(p.id, p.channel)
		p.prevChannel = p.channel
		p.channel = proto.ChannelPrivate
	}
	return prevA, prevB, nil
}

// LeavePrivate restores a peer to the channel it held before its private
// session and returns that channel.
func (m *Manager) LeavePrivate(id proto.ID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok {
		return 0, ErrUnauthorized
	}
	if p.channel != proto.ChannelPrivate {
		return p.channel, nil
	}
	p.channel = p.prevChannel
	m.joinLocked(id, p.channel)
	return p.channel, nil
}

// PeerByID returns a snapshot of the live peer for id.
func (m *Manager) PeerByID(id proto.ID) (PeerInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return p.info(), true
}

// PeerByLogin returns a snapshot of the live peer with the given login.
func (m *Manager) PeerByLogin(login string) (PeerInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byLogin[login]
	if !ok {
		return PeerInfo{}, false
	}
	return m.peers[id].info(), true
}

// IsLoggedIn reports whether a peer with the given login (or e-mail) is
// live.
func (m *Manager) IsLoggedIn(login string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.byLogin[login]; ok {
		return true
	}
	_, ok := m.byEmail[login]
	return ok
}

// IsRegistered reports whether the store holds an account for the given
// login or e-mail.
func (m *Manager) IsRegistered(loginOrEmail string) (bool, error) {
	_, found, err := m.accounts.ByLogin(loginOrEmail)
	if err != nil {
		return false, fmt.Errorf("registry: account lookup: %w", err)
	}
	if !found && strings.ContainsRune(loginOrEmail, '@') {
		_, found, err = m.accounts.ByEmail(loginOrEmail)
		if err != nil {
			return false, fmt.Errorf("registry: account lookup: %w", err)
		}
	}
	return found, nil
}

// ListPeers snapshots the roster. With a channel, only peers on it; with
// nil, every live peer outside a private session.
func (m *Manager) ListPeers(channel *int) []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PeerInfo
	if channel != nil {
		for id := range m.channels[*channel] {
			out = append(out, m.peers[id].info())
		}
		return out
	}
	for _, p := range m.peers {
		if p.channel == proto.ChannelPrivate {
			continue
		}
		out = append(out, p.info())
	}
	return out
}

// SocketsOnChannel snapshots the sockets of every peer on ch except the
// given id. The caller enqueues outside the registry lock.
func (m *Manager) SocketsOnChannel(ch int, except proto.ID) []Socket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Socket
	for id := range m.channels[ch] {
		if id == except {
			continue
		}
		out = append(out, m.peers[id].sock)
	}
	return out
}

// SocketOf returns the socket owned by the live peer for id.
func (m *Manager) SocketOf(id proto.ID) (Socket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.peers[id]
	if !ok {
		return nil, false
	}
	return p.sock, true
}

// AllSockets snapshots every live peer's socket, private sessions included.
func (m *Manager) AllSockets() []Socket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Socket, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p.sock)
	}
	return out
}

// Count returns the number of live peers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// joinLocked adds id to the subscriber set of ch. Caller holds the lock.
func (m *Manager) joinLocked(id proto.ID, ch int) {
	set, ok := m.channels[ch]
	if !ok {
		set = make(map[proto.ID]struct{})
		m.channels[ch] = set
	}
	set[id] = struct{}{}
}

// leaveLocked removes id from the subscriber set of ch. Caller holds the
// lock.
func (m *Manager) leaveLocked(id proto.ID, ch int) {
	set, ok := m.channels[ch]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.channels, ch)
	}
}
