package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the eviction policy layered on top of a Store.
//
// Zero values mean "unbounded": a zero MaxAge disables expiry and a zero
// MaxSize disables eviction. Recency-based eviction is on by default;
// NoLRU switches the victim order to insertion order.
type Config struct {
	MaxAge  time.Duration
	MaxSize int64
	NoLRU   bool
}

// Cache adds TTL expiry, byte-size accounting and LRU eviction on top of
// a policy-free Store. It owns all eviction decisions; the Store is only
// the durability substrate.
type Cache struct {
	store Store
	cfg   Config
	log   zerolog.Logger

	// mu guards total and serializes policy decisions. Entries are
	// immutable once written, so there is no per-entry state to protect.
	mu    sync.Mutex
	total int64
}

// New creates a Cache over the given store. The running size total is
// primed from the store, so a pre-populated persistent store is picked up
// where it left off. A nil logger uses the global zerolog logger.
func New(store Store, cfg Config, logger *zerolog.Logger) (*Cache, error) {
	if logger == nil {
		logger = &log.Logger
	}
	c := &Cache{
		store: store,
		cfg:   cfg,
		log:   logger.With().Str("component", "cache").Logger(),
	}
	entries, err := store.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		c.total += e.Size
	}
	return c, nil
}

// Get returns the live entry for key, or nil if the key is absent or the
// entry has expired. An expired entry is deleted from the store in the
// background; a failed delete is logged, never surfaced. On a hit the
// entry's last-access time is refreshed.
//
// Storage errors from the underlying Store propagate to the caller.
func (c *Cache) Get(key string) (*Entry, error) {
	e, err := c.store.Get(key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	if c.expired(e, time.Now()) {
		go c.purge(key, e.InsertedAt)
		return nil, nil
	}
	c.touch(e)
	return e, nil
}

// Set stores value under key, evicting older entries as needed to keep
// the aggregate size within bounds. A single value larger than the size
// bound is never admitted; the call returns without storing.
func (c *Cache) Set(key string, value any) error {
	size, err := ValueSize(value)
	if err != nil {
		return err
	}
	if c.cfg.MaxSize > 0 && size > c.cfg.MaxSize {
		c.log.Debug().Str("key", key).Int64("size", size).Msg("Entry larger than cache, not storing")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A replaced entry is removed from the store before the eviction
	// scan runs, so it can neither be picked as a victim nor have its
	// size released twice. The total is only adjusted after the store
	// operation succeeds, keeping the accounting in step with the
	// store's actual contents on every path.
	if old, err := c.store.Get(key); err != nil {
		return err
	} else if old != nil {
		if err := c.store.Delete(key); err != nil {
			return err
		}
		c.total -= old.Size
	}

	if c.cfg.MaxSize > 0 {
		for c.total+size > c.cfg.MaxSize {
			if evicted, err := c.evictOne(); err != nil {
				return err
			} else if !evicted {
				break
			}
		}
	}

	now := time.Now()
	e := &Entry{
		Key:            key,
		Value:          value,
		Size:           size,
		InsertedAt:     now,
		LastAccessedAt: now,
	}
	if err := c.store.Set(key, e); err != nil {
		return err
	}
	c.total += size
	return nil
}

// Delete removes the entry for key and releases its accounted size.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.store.Get(key)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	if err := c.store.Delete(key); err != nil {
		return err
	}
	c.total -= e.Size
	return nil
}

// Size returns the accounted aggregate size of all live entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// evictOne removes the single best eviction victim: the least recently
// accessed entry, or the oldest inserted one when LRU is disabled.
// It reports false when the store has nothing left to evict.
func (c *Cache) evictOne() (bool, error) {
	entries, err := c.store.Entries()
	if err != nil {
		return false, err
	}
	var victim *Entry
	for _, e := range entries {
		if victim == nil || c.olderThan(e, victim) {
			victim = e
		}
	}
	if victim == nil {
		return false, nil
	}
	c.log.Debug().Str("key", victim.Key).Int64("size", victim.Size).Msg("Evicting entry")
	if err := c.store.Delete(victim.Key); err != nil {
		return false, err
	}
	c.total -= victim.Size
	return true, nil
}

func (c *Cache) olderThan(a, b *Entry) bool {
	if c.cfg.NoLRU {
		return a.InsertedAt.Before(b.InsertedAt)
	}
	return a.LastAccessedAt.Before(b.LastAccessedAt)
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return c.cfg.MaxAge > 0 && now.Sub(e.InsertedAt) > c.cfg.MaxAge
}

// purge removes an entry detected as expired on read. The entry may
// have been rewritten since detection, so it is only removed if its
// insertion time still matches. Failures are logged, never surfaced.
func (c *Cache) purge(key string, insertedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.store.Get(key)
	if err != nil || cur == nil || !cur.InsertedAt.Equal(insertedAt) {
		return
	}
	if err := c.store.Delete(key); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Could not purge expired entry")
		return
	}
	c.total -= cur.Size
}

// touch refreshes the last-access time and writes it back through the
// store. The entry was read outside the lock, so it is re-validated
// first: if the key was rewritten in the meantime, the refresh is
// skipped rather than clobbering the newer entry with a stale one.
// The refresh is policy bookkeeping, so a failed write-back is logged
// and the hit is still served.
func (c *Cache) touch(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.store.Get(e.Key)
	if err != nil || cur == nil || !cur.InsertedAt.Equal(e.InsertedAt) {
		return
	}
	cur.LastAccessedAt = time.Now()
	if err := c.store.Set(e.Key, cur); err != nil {
		c.log.Error().Err(err).Str("key", e.Key).Msg("Could not refresh entry access time")
	}
}
