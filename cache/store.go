package cache

import (
	"fmt"
	"sync"
	"time"
)

// Entry is the unit stored by the cache: a value plus the bookkeeping
// needed for expiry and eviction decisions.
type Entry struct {
	// Key is the opaque identifier the entry is stored under.
	Key string
	// Value is the cached value. It is either a typed value implementing
	// Sizer, or the raw serialized bytes a persisting backend returns.
	Value any
	// Size is the computed byte size of Value, used for aggregate accounting.
	Size int64
	// InsertedAt is the time of the last (re)write, used for TTL expiry.
	InsertedAt time.Time
	// LastAccessedAt is the time of the last successful read, used for
	// recency ordering.
	LastAccessedAt time.Time
}

// Sizer is implemented by values that can report their own byte size.
type Sizer interface {
	Size() int64
}

// ValueSize computes the byte size of a cacheable value.
// It returns an error for value types it cannot measure.
func ValueSize(v any) (int64, error) {
	switch val := v.(type) {
	case Sizer:
		return val.Size(), nil
	case []byte:
		return int64(len(val)), nil
	case string:
		return int64(len(val)), nil
	default:
		return 0, fmt.Errorf("cannot compute size of %T", v)
	}
}

// Store is a pluggable key/value backend for cache entries.
// It holds no policy state: expiry and eviction are decided by Cache.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for the given key, or nil if absent.
	// A missing key is not an error.
	Get(key string) (*Entry, error)
	// Set stores the entry under the given key, replacing any existing one.
	Set(key string, e *Entry) error
	// Delete removes the entry for the given key. Idempotent.
	Delete(key string) error
	// Entries enumerates all stored entries with their sizes and
	// timestamps, for eviction scans by backends without native ordering.
	Entries() ([]*Entry, error)
	// Clear removes all entries.
	Clear() error
}

// MemoryStore is the default in-memory Store backed by a map.
type MemoryStore struct {
	mu sync.Mutex
	db map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{db: make(map[string]*Entry)}
}

func (m *MemoryStore) Get(key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.db[key]
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (m *MemoryStore) Set(key string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db[key] = e
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.db, key)
	return nil
}

func (m *MemoryStore) Entries() ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*Entry, 0, len(m.db))
	for _, e := range m.db {
		entries = append(entries, e)
	}
	return entries, nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db = make(map[string]*Entry)
	return nil
}
