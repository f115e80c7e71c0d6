package cache

import (
	"context"
	"sync"
	"time"
)

// FingerprintStore records content fingerprints with a TTL so duplicate
// events can be rejected anywhere within the retention horizon.
type FingerprintStore interface {
	// AddIfAbsent stores the fingerprint and reports true when it was not
	// already present. A false return means a duplicate.
	AddIfAbsent(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
	Close() error
}

// MemoryStore is the default in-process FingerprintStore. Expired entries
// are reaped lazily by a periodic sweep piggybacked on writes.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	sweepAt time.Time
	now     func() time.Time
}

// NewMemoryStore creates an in-memory fingerprint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// AddIfAbsent implements FingerprintStore.
func (m *MemoryStore) AddIfAbsent(_ context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, ok := m.entries[fingerprint]; ok && expiry.After(now) {
		return false, nil
	}
	m.entries[fingerprint] = now.Add(ttl)

	if now.After(m.sweepAt) {
		for fp, expiry := range m.entries {
			if expiry.Before(now) {
				delete(m.entries, fp)
			}
		}
		m.sweepAt = now.Add(time.Minute)
	}
	return true, nil
}

// Len reports the number of stored fingerprints, expired stragglers included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close releases the store.
func (m *MemoryStore) Close() error { return nil }
