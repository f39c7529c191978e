package store

import (
	"sync"

	"github.com/orcchg/ChatServer-sub000/pkg/proto"
)

// MemoryStore is an in-memory AccountStore and KeyStore. Useful for testing
// and development. Data is lost when the process exits.
//
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	nextID   proto.ID
	accounts map[proto.ID]Account
	byLogin  map[string]proto.ID
	byEmail  map[string]proto.ID
	keys     map[proto.ID]string
}

// NewMemoryStore creates an empty memory store. Account ids are assigned
// from proto.FirstAccountID.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   proto.FirstAccountID,
		accounts: make(map[proto.ID]Account),
		byLogin:  make(map[string]proto.ID),
		byEmail:  make(map[string]proto.ID),
		keys:     make(map[proto.ID]string),
	}
}

// Create inserts a new account and assigns its id.
func (m *MemoryStore) Create(login, email, passwordHash string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byLogin[login]; ok {
		return Account{}, ErrDuplicateLogin
	}
	if _, ok := m.byEmail[email]; ok {
		return Account{}, ErrDuplicateEmail
	}

	acc := Account{
		ID:           m.nextID,
		Login:        login,
		Email:        email,
		PasswordHash: passwordHash,
	}
	m.nextID++
	m.accounts[acc.ID] = acc
	m.byLogin[login] = acc.ID
	m.byEmail[email] = acc.ID
	return acc, nil
}

// ByLogin looks an account up by login.
func (m *MemoryStore) ByLogin(login string) (Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byLogin[login]
	if !ok {
		return Account{}, false, nil
	}
	return m.accounts[id], true, nil
}

// ByEmail looks an account up by e-mail.
func (m *MemoryStore) ByEmail(email string) (Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return Account{}, false, nil
	}
	return m.accounts[id], true, nil
}

// Count returns the number of stored accounts.
func (m *MemoryStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts), nil
}

// Put stores or replaces the owner's public key.
func (m *MemoryStore) Put(owner proto.ID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[owner] = key
	return nil
}

// Get returns the owner's public key, if any.
func (m *MemoryStore) Get(owner proto.ID) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[owner]
	return key, ok, nil
}

// Delete removes the owner's public key.
func (m *MemoryStore) Delete(owner proto.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, owner)
	return nil
}

// Clear removes all stored data.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID = proto.FirstAccountID
	m.accounts = make(map[proto.ID]Account)
	m.byLogin = make(map[string]proto.ID)
	m.byEmail = make(map[string]proto.ID)
	m.keys = make(map[proto.ID]string)
}

// snapshot copies the full store state for persistence.
func (m *MemoryStore) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := snapshot{NextID: m.nextID}
	s.Accounts = make([]Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		s.Accounts = append(s.Accounts, acc)
	}
	s.Keys = make([]PublicKey, 0, len(m.keys))
	for owner, key := range m.keys {
		s.Keys = append(s.Keys, PublicKey{OwnerID: owner, Key: key})
	}
	return s
}

// restore replaces the full store state from a persisted snapshot.
func (m *MemoryStore) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID = s.NextID
	if m.nextID < proto.FirstAccountID {
		m.nextID = proto.FirstAccountID
	}
	m.accounts = make(map[proto.ID]Account, len(s.Accounts))
	m.byLogin = make(map[string]proto.ID, len(s.Accounts))
	m.byEmail = make(map[string]proto.ID, len(s.Accounts))
	for _, acc := range s.Accounts {
		m.accounts[acc.ID] = acc
		m.byLogin[acc.Login] = acc.ID
		m.byEmail[acc.Email] = acc.ID
		if acc.ID >= m.nextID {
			m.nextID = acc.ID + 1
		}
	}
	m.keys = make(map[proto.ID]string, len(s.Keys))
	for _, k := range s.Keys {
		m.keys[k.OwnerID] = k.Key
	}
}

// Verify MemoryStore implements both store interfaces.
var (
	_ AccountStore = (*MemoryStore)(nil)
	_ KeyStore     = (*MemoryStore)(nil)
)
