package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ImpressionSource counts how often a question was shown. Impressions
// are volume counters, not attribution events, so they live outside
// the click ledger in cheap daily buckets.
type ImpressionSource interface {
	Record(ctx context.Context, questionID string, at time.Time) error
	Count(ctx context.Context, questionID string, from, to time.Time) (int64, error)
}

// RedisImpressionCounter keeps per-question daily counters in Redis.
type RedisImpressionCounter struct {
	client *redis.Client
}

// NewRedisImpressionCounter creates a Redis-backed impression counter.
func NewRedisImpressionCounter(client *redis.Client) *RedisImpressionCounter {
	return &RedisImpressionCounter{client: client}
}

func impressionKey(questionID string, day time.Time) string {
	return fmt.Sprintf("stats:imps:question:%s:%s", questionID, day.UTC().Format("2006-01-02"))
}

func (c *RedisImpressionCounter) Record(ctx context.Context, questionID string, at time.Time) error {
	key := impressionKey(questionID, at)
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 40*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record impression: %w", err)
	}
	return nil
}

func (c *RedisImpressionCounter) Count(ctx context.Context, questionID string, from, to time.Time) (int64, error) {
	var total int64
	for d := from.UTC().Truncate(24 * time.Hour); !d.After(to); d = d.AddDate(0, 0, 1) {
		n, err := c.client.Get(ctx, impressionKey(questionID, d)).Int64()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read impressions: %w", err)
		}
		total += n
	}
	return total, nil
}

// MemoryImpressionCounter keeps impression buckets in process.
type MemoryImpressionCounter struct {
	mu     sync.RWMutex
	counts map[string]int64
}

// NewMemoryImpressionCounter creates an in-memory impression counter.
func NewMemoryImpressionCounter() *MemoryImpressionCounter {
	return &MemoryImpressionCounter{counts: make(map[string]int64)}
}

func (c *MemoryImpressionCounter) Record(ctx context.Context, questionID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[impressionKey(questionID, at)]++
	return nil
}

func (c *MemoryImpressionCounter) Count(ctx context.Context, questionID string, from, to time.Time) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for d := from.UTC().Truncate(24 * time.Hour); !d.After(to); d = d.AddDate(0, 0, 1) {
		total += c.counts[impressionKey(questionID, d)]
	}
	return total, nil
}
