package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/ticketflow/pkg/sweeper"
)

// NewLedger returns a Redis-backed sweep ledger when redisURL is set, so
// several sweeper replicas share one claim set, and an in-process ledger
// otherwise. The returned close function releases the Redis client.
func NewLedger(ctx context.Context, logger *slog.Logger, redisURL string, ttl time.Duration) (sweeper.Ledger, func() error, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "using in-process sweep ledger")

		return sweeper.NewMemoryLedger(ttl), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	logger.InfoContext(ctx, "using redis sweep ledger", "addr", opts.Addr)

	return sweeper.NewRedisLedger(client, ttl), client.Close, nil
}
