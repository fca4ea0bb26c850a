package cache

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/metrics"
)

const (
	// DefaultRefreshInterval is how long a successfully loaded listing is served.
	DefaultRefreshInterval = 15 * time.Minute
	// DefaultRetryInterval is how soon a failed reload is attempted again.
	DefaultRetryInterval = 60 * time.Second

	reloadTimeout = 10 * time.Second
)

// Lister is the part of domain.Repository the cache needs.
type Lister interface {
	ListInstances(ctx context.Context, opts domain.ListOptions) ([]domain.Instance, error)
}

// DirectoryCache serves the ranked listing from memory and reloads it from
// the repository at most once per refresh window.
//
// The returned slices are shared snapshots and must not be modified.
type DirectoryCache struct {
	mu          sync.RWMutex
	instances   []domain.Instance
	nextRefresh time.Time
	lastReload  time.Time
	loaded      bool
	// generation counts invalidations so a reload racing one does not
	// push the next refresh out.
	generation uint64

	// reloadMu makes sure a single goroutine talks to the repository.
	reloadMu sync.Mutex

	repo    Lister
	logger  logger.Logger
	refresh time.Duration
	retry   time.Duration
	now     func() time.Time
}

func NewDirectoryCache(repo Lister, log logger.Logger) *DirectoryCache {
	return &DirectoryCache{
		repo:    repo,
		logger:  log,
		refresh: DefaultRefreshInterval,
		retry:   DefaultRetryInterval,
		now:     time.Now,
	}
}

// Listing returns the current snapshot, reloading it first when due. While
// another goroutine reloads, readers keep getting the previous snapshot; only
// the very first load makes readers wait.
func (c *DirectoryCache) Listing(ctx context.Context) []domain.Instance {
	c.mu.RLock()
	snapshot, loaded := c.instances, c.loaded
	due := !c.now().Before(c.nextRefresh)
	c.mu.RUnlock()

	if !due {
		return snapshot
	}
	if loaded {
		if !c.reloadMu.TryLock() {
			return snapshot
		}
	} else {
		c.reloadMu.Lock()
	}
	defer c.reloadMu.Unlock()

	// Someone else may have reloaded while we were waiting for the lock.
	c.mu.RLock()
	if c.now().Before(c.nextRefresh) {
		snapshot = c.instances
		c.mu.RUnlock()
		return snapshot
	}
	c.mu.RUnlock()

	return c.reload(ctx)
}

func (c *DirectoryCache) reload(ctx context.Context) []domain.Instance {
	// A reader going away must not poison the shared snapshot.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
	defer cancel()

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	instances, err := c.repo.ListInstances(ctx, domain.ListOptions{
		Order: domain.OrderRanked,
		Limit: domain.ListingLimit,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	current := gen == c.generation

	if err != nil {
		if current {
			c.nextRefresh = now.Add(c.retry)
		}
		metrics.CacheReloadsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("failed to reload directory, serving stale listing",
			logger.Int("stale_count", len(c.instances)),
			logger.Duration("retry_in", c.retry),
			logger.Error(err))
		return c.instances
	}

	c.instances = instances
	c.loaded = true
	c.lastReload = now
	if current {
		c.nextRefresh = now.Add(c.refresh)
	}
	metrics.CacheReloadsTotal.WithLabelValues("ok").Inc()
	metrics.ListedInstances.Set(float64(len(instances)))
	c.logger.Debug("directory reloaded", logger.Int("count", len(instances)))
	return instances
}

// Invalidate makes the next Listing call reload.
func (c *DirectoryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.nextRefresh = time.Time{}
}

// Count returns the size of the current snapshot without reloading.
func (c *DirectoryCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instances)
}

// LastReload returns when the snapshot was last replaced, zero if never.
func (c *DirectoryCache) LastReload() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastReload
}

// NextRefresh returns when the snapshot is due for a reload.
func (c *DirectoryCache) NextRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextRefresh
}
