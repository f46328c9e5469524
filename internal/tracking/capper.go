package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClickCapper enforces per-offer daily click caps. A capped click is
// still written to the ledger, just classified filtered so it never
// feeds metrics.
type ClickCapper interface {
	// Allow counts one click against the offer's daily cap and
	// reports whether it fits. cap <= 0 means uncapped.
	Allow(ctx context.Context, offerID string, cap int64, at time.Time) (bool, error)
}

// RedisClickCapper implements ClickCapper using Redis for distributed
// daily counters.
type RedisClickCapper struct {
	client *redis.Client
}

// NewRedisClickCapper creates a new Redis-backed click capper.
func NewRedisClickCapper(client *redis.Client) *RedisClickCapper {
	return &RedisClickCapper{client: client}
}

func (c *RedisClickCapper) Allow(ctx context.Context, offerID string, cap int64, at time.Time) (bool, error) {
	if cap <= 0 {
		return true, nil
	}

	day := at.UTC().Format("2006-01-02")
	key := fmt.Sprintf("cap:clicks:%s:%s", offerID, day)

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 25*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: cap enforcement is best effort, the ledger is
		// still the source of truth.
		return true, err
	}
	return incr.Val() <= cap, nil
}

// MemoryClickCapper implements ClickCapper with an in-process map.
type MemoryClickCapper struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryClickCapper creates a new in-memory click capper.
func NewMemoryClickCapper() *MemoryClickCapper {
	return &MemoryClickCapper{counts: make(map[string]int64)}
}

func (c *MemoryClickCapper) Allow(ctx context.Context, offerID string, cap int64, at time.Time) (bool, error) {
	if cap <= 0 {
		return true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := offerID + ":" + at.UTC().Format("2006-01-02")
	c.counts[key]++
	return c.counts[key] <= cap, nil
}
