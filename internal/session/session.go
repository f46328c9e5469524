package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Validator is the session existence check the tracking core
// requires from the survey runtime. Sessions themselves are owned
// elsewhere; the core only asks whether one is live.
type Validator interface {
	IsSessionValid(ctx context.Context, sessionID string) (bool, error)
}

// Registrar is the write side: the survey runtime registers sessions,
// the tracking core only ever validates them.
type Registrar interface {
	Validator
	Register(ctx context.Context, sessionID string) error
}

// RedisValidator checks session keys kept in Redis with a TTL.
type RedisValidator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisValidator creates a Redis-backed session validator.
func NewRedisValidator(client *redis.Client, ttl time.Duration) *RedisValidator {
	return &RedisValidator{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func (v *RedisValidator) IsSessionValid(ctx context.Context, sessionID string) (bool, error) {
	n, err := v.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

// Register marks a session live, refreshing its TTL. Called by the
// survey runtime when a respondent starts or resumes a session.
func (v *RedisValidator) Register(ctx context.Context, sessionID string) error {
	if err := v.client.Set(ctx, sessionKey(sessionID), 1, v.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	return nil
}

// MemoryValidator keeps live sessions in an in-process set.
type MemoryValidator struct {
	mu       sync.RWMutex
	sessions map[string]struct{}
}

// NewMemoryValidator creates an in-memory session validator.
func NewMemoryValidator() *MemoryValidator {
	return &MemoryValidator{sessions: make(map[string]struct{})}
}

func (v *MemoryValidator) IsSessionValid(ctx context.Context, sessionID string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.sessions[sessionID]
	return ok, nil
}

// Register marks a session live.
func (v *MemoryValidator) Register(ctx context.Context, sessionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions[sessionID] = struct{}{}
	return nil
}
