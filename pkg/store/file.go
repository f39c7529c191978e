package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/orcchg/ChatServer-sub000/pkg/proto"
)

// snapshot is the on-disk layout of a FileStore.
type snapshot struct {
	NextID   proto.ID    `json:"next_id"`
	Accounts []Account   `json:"accounts"`
	Keys     []PublicKey `json:"keys"`
}

// FileStore is an AccountStore and KeyStore persisted as a single JSON
// snapshot file. The whole state is loaded on open and rewritten (temp file
// plus rename) after every mutation. Suited to the account volumes a single
// chat server sees; a real database engine stays behind the same interfaces.
//
// All methods are safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex // serializes mutate+persist
	path string
	mem  *MemoryStore
}

// OpenFileStore opens or creates a snapshot file at path.
func OpenFileStore(path string) (*FileStore, error) {
	f := &FileStore{
		path: path,
		mem:  NewMemoryStore(),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	f.mem.restore(s)
	return f, nil
}

// Create inserts a new account and persists the snapshot.
func (f *FileStore) Create(login, email, passwordHash string) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	acc, err := f.mem.Create(login, email, passwordHash)
	if err != nil {
		return Account{}, err
	}
	if err := f.persist(); err != nil {
		// Kept in memory; the next successful mutation rewrites the file.
		return acc, err
	}
	return acc, nil
}

// ByLogin looks an account up by login.
func (f *FileStore) ByLogin(login string) (Account, bool, error) {
	return f.mem.ByLogin(login)
}

// ByEmail looks an account up by e-mail.
func (f *FileStore) ByEmail(email string) (Account, bool, error) {
	return f.mem.ByEmail(email)
}

// Count returns the number of stored accounts.
func (f *FileStore) Count() (int, error) {
	return f.mem.Count()
}

// Put stores the owner's public key and persists the snapshot.
func (f *FileStore) Put(owner proto.ID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.Put(owner, key); err != nil {
		return err
	}
	return f.persist()
}

// Get returns the owner's public key, if any.
func (f *FileStore) Get(owner proto.ID) (string, bool, error) {
	return f.mem.Get(owner)
}

// Delete removes the owner's public key and persists the snapshot.
func (f *FileStore) Delete(owner proto.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.Delete(owner); err != nil {
		return err
	}
	return f.persist()
}

// persist rewrites the snapshot file atomically. Callers hold f.mu.
func (f *FileStore) persist() error {
	s := f.mem.snapshot()
	sort.Slice(s.Accounts, func(i, j int) bool { return s.Accounts[i].ID < s.Accounts[j].ID })
	sort.Slice(s.Keys, func(i, j int) bool { return s.Keys[i].OwnerID < s.Keys[j].OwnerID })

	data, err := json.MarshalIndent(&s, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("store: rename %s: %w", tmp, err)
	}
	return nil
}

// Verify FileStore implements both store interfaces.
var (
	_ AccountStore = (*FileStore)(nil)
	_ KeyStore     = (*FileStore)(nil)
)
