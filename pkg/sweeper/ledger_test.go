//go:build integration

package sweeper

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestRedisLedger(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	first := NewRedisLedger(client, time.Minute)
	second := NewRedisLedger(client, time.Minute)

	ok, err := first.Claim(ctx, "pass-1", "ticket-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Claim(ctx, "pass-1", "ticket-1")
	require.NoError(t, err)
	assert.False(t, ok, "a replica sharing the pass must not claim the same ticket")

	ok, err = second.Claim(ctx, "pass-1", "ticket-2")
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := client.TTL(ctx, claimKey("pass-1", "ticket-1")).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
