package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultLedgerTTL bounds how long a claim outlives its pass.
const DefaultLedgerTTL = time.Hour

// Ledger remembers which tickets a pass already handled.
type Ledger interface {
	// Claim reports true the first time ticketID is claimed within passID
	// and false on every later call.
	Claim(ctx context.Context, passID, ticketID string) (bool, error)
}

// MemoryLedger keeps claims in process memory.
type MemoryLedger struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}

	return &MemoryLedger{
		ttl:    ttl,
		now:    time.Now,
		claims: make(map[string]time.Time),
	}
}

func (l *MemoryLedger) Claim(_ context.Context, passID, ticketID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	for key, expires := range l.claims {
		if now.After(expires) {
			delete(l.claims, key)
		}
	}

	key := claimKey(passID, ticketID)
	if _, taken := l.claims[key]; taken {
		return false, nil
	}

	l.claims[key] = now.Add(l.ttl)

	return true, nil
}

// RedisLedger shares claims between sweeper replicas through SETNX.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}

	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, passID, ticketID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, claimKey(passID, ticketID), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim ticket %s in pass %s: %w", ticketID, passID, err)
	}

	return ok, nil
}

func claimKey(passID, ticketID string) string {
	return "ticketflow:sweep:" + passID + ":" + ticketID
}
