package records

import (
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// recordsKey is the single namespaced key the whole document lives under.
var recordsKey = []byte("clinicore:records")

// Backend persists the full record document as one value under one key.
// Load returns (nil, nil) when the key has never been written; the store
// treats that as a first run.
type Backend interface {
	Load() ([]byte, error)
	Save(data []byte) error
	Close() error
}

// BadgerBackend stores the document in a BadgerDB value log on disk.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database at path.
func OpenBadger(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: db}, nil
}

// Load reads the document blob.
func (b *BadgerBackend) Load() ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordsKey)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte{}, v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return val, err
}

// Save writes the document blob in a single transaction.
func (b *BadgerBackend) Save(data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordsKey, data)
	})
}

// Close closes the underlying database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// MemoryBackend keeps the document in memory. Used by tests and by
// one-shot CLI commands that should not touch the data directory.
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load returns the last saved blob, or (nil, nil) before the first save.
func (m *MemoryBackend) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

// Save replaces the stored blob.
func (m *MemoryBackend) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte{}, data...)
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}
