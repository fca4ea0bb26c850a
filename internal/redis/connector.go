package redis

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/directory/internal/connect"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ConnectOptions defines Redis client and connection retry behavior.
type ConnectOptions struct {
	Addr         string        // Redis address (ex: "localhost:6379")
	User         string        // Optional username
	Password     string        // Optional password
	RedisDB      int           // Redis DB number
	DialTimeout  time.Duration // Redis dial timeout
	ReadTimeout  time.Duration // Redis read timeout
	WriteTimeout time.Duration // Redis write timeout
	PoolSize     int           // Redis connection pool size
	Retry        connect.Options
}

// New creates a Redis client and waits until it answers PING.
// Returns error if the connection cannot be established within the retry timeout.
func New(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.User,
		Password:     opts.Password,
		DB:           opts.RedisDB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	retry := opts.Retry
	retry.Name = "redis"
	retry.Target = opts.Addr

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := connect.WithRetry(ctx, ping, retry, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
