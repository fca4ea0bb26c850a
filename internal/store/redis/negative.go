package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/redis/go-redis/v9"
)

// NegativeLookups remembers failed submissions in Redis so every replica
// behind a load balancer shares them. Keys expire on their own.
type NegativeLookups struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewNegativeLookups creates a Redis backed negative cache
func NewNegativeLookups(client *redis.Client, ttl time.Duration, log logger.Logger) *NegativeLookups {
	return &NegativeLookups{
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

// IsRecentFailure reports whether url failed within the TTL. A Redis error
// counts as a miss so the submission gets probed.
func (n *NegativeLookups) IsRecentFailure(ctx context.Context, url string) bool {
	found, err := n.client.Exists(ctx, NegativeKey(url)).Result()
	if err != nil {
		n.logger.Warn("negative lookup failed", logger.String("url", url), logger.Error(err))
		return false
	}
	return found > 0
}

// RecordFailure stores url with the configured TTL.
func (n *NegativeLookups) RecordFailure(ctx context.Context, url string) {
	if err := n.record(ctx, url); err != nil {
		n.logger.Warn("failed to record negative lookup", logger.String("url", url), logger.Error(err))
	}
}

func (n *NegativeLookups) record(ctx context.Context, url string) error {
	if err := n.client.Set(ctx, NegativeKey(url), time.Now().Unix(), n.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache failure: %w", err)
	}
	return nil
}

// Forget removes url once it validated successfully.
func (n *NegativeLookups) Forget(ctx context.Context, url string) error {
	if err := n.client.Del(ctx, NegativeKey(url)).Err(); err != nil {
		return fmt.Errorf("failed to forget failure: %w", err)
	}
	return nil
}
