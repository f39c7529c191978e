// Package store defines the persistence seams of the chat server: the
// account table and the per-account public key table. The core only ever
// touches these narrow interfaces; the backing engine is a deployment
// concern. Two adapters ship in-tree: a memory store and a JSON snapshot
// file store.
package store

import (
	"errors"

	"github.com/orcchg/ChatServer-sub000/pkg/proto"
)

// Store errors.
var (
	ErrDuplicateLogin = errors.New("store: login already registered")
	ErrDuplicateEmail = errors.New("store: email already registered")
	ErrClosed         = errors.New("store: closed")
)

// Account is one persisted account row. PasswordHash is opaque to the
// store; hashing happens in the registry before Create.
type Account struct {
	ID           proto.ID `json:"id"`
	Login        string   `json:"login"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"password_hash"`
}

// PublicKey is one persisted public key row. Key is opaque text (base64 on
// the wire); the store never decodes it.
type PublicKey struct {
	OwnerID proto.ID `json:"owner_id"`
	Key     string   `json:"key"`
}

// AccountStore abstracts the account table.
//
// All methods must be safe for concurrent use.
type AccountStore interface {
	// Create inserts a new account and assigns its id.
	// Returns ErrDuplicateLogin or ErrDuplicateEmail on a taken key.
	Create(login, email, passwordHash string) (Account, error)

	// ByLogin looks an account up by login.
	ByLogin(login string) (Account, bool, error)

	// ByEmail looks an account up by e-mail.
	ByEmail(email string) (Account, bool, error)

	// Count returns the number of stored accounts.
	Count() (int, error)
}

// KeyStore abstracts the public key table. Only used when E2EE is enabled.
//
// All methods must be safe for concurrent use.
type KeyStore interface {
	// Put stores or replaces the owner's public key.
	Put(owner proto.ID, key string) error

	// Get returns the owner's public key, if any.
	Get(owner proto.ID) (string, bool, error)

	// Delete removes the owner's public key. Deleting an absent key is a
	// no-op.
	Delete(owner proto.ID) error
}
