package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/directory/internal/logger"
)

// DefaultGCInterval is how often expired negative lookups are dropped.
const DefaultGCInterval = time.Minute

// Pruner is satisfied by *cache.MemoryNegativeLookups.
type Pruner interface {
	Prune() int
}

// GarbageCollector drops expired negative lookups that nobody asked for
// again, so the in-process cache does not grow with every bad submission.
// The Redis variant expires keys on its own and needs no collector.
type GarbageCollector struct {
	negative Pruner
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewGarbageCollector creates a new garbage collector
func NewGarbageCollector(negative Pruner, log logger.Logger, interval time.Duration) *GarbageCollector {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &GarbageCollector{
		negative: negative,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic garbage collection process
func (gc *GarbageCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(gc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				gc.Collect()
			case <-gc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the garbage collector
func (gc *GarbageCollector) Stop() {
	gc.stopOnce.Do(func() { close(gc.stopCh) })
}

// Collect removes expired entries and returns how many were dropped
func (gc *GarbageCollector) Collect() int {
	removed := gc.negative.Prune()
	if removed > 0 {
		gc.logger.Debug("garbage collected negative lookups", logger.Int("removed", removed))
	}
	return removed
}
