package cache

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultNegativeTTL is how long a failed submission is not probed again.
	DefaultNegativeTTL = 5 * time.Minute

	// pruneThreshold triggers a sweep of expired entries on write.
	pruneThreshold = 1024
)

// NegativeLookups remembers URLs whose validation failed recently, so
// repeated submissions of the same bad input are not probed again.
type NegativeLookups interface {
	IsRecentFailure(ctx context.Context, url string) bool
	RecordFailure(ctx context.Context, url string)
}

// Forgetter is implemented by negative caches that can drop an entry once
// the URL validates, for instance after a concurrent submission recorded it.
type Forgetter interface {
	Forget(ctx context.Context, url string) error
}

// MemoryNegativeLookups keeps failures in process.
type MemoryNegativeLookups struct {
	mu       sync.RWMutex
	failures map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryNegativeLookups(ttl time.Duration) *MemoryNegativeLookups {
	if ttl <= 0 {
		ttl = DefaultNegativeTTL
	}
	return &MemoryNegativeLookups{
		failures: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// IsRecentFailure reports whether url failed within the TTL. Expired
// entries are evicted.
func (m *MemoryNegativeLookups) IsRecentFailure(_ context.Context, url string) bool {
	m.mu.RLock()
	failedAt, ok := m.failures[url]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if m.now().Sub(failedAt) < m.ttl {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check, the entry may have been refreshed in between.
	if failedAt, ok := m.failures[url]; ok && m.now().Sub(failedAt) >= m.ttl {
		delete(m.failures, url)
	}
	return false
}

func (m *MemoryNegativeLookups) RecordFailure(_ context.Context, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if len(m.failures) >= pruneThreshold {
		m.pruneLocked(now)
	}
	m.failures[url] = now
}

// Forget drops url.
func (m *MemoryNegativeLookups) Forget(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, url)
	return nil
}

// Len returns the number of entries, expired ones included.
func (m *MemoryNegativeLookups) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.failures)
}

// Prune drops every expired entry and returns how many were removed.
func (m *MemoryNegativeLookups) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(m.now())
}

func (m *MemoryNegativeLookups) pruneLocked(now time.Time) int {
	removed := 0
	for u, failedAt := range m.failures {
		if now.Sub(failedAt) >= m.ttl {
			delete(m.failures, u)
			removed++
		}
	}
	return removed
}
