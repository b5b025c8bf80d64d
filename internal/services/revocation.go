package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/pkg/utils"
)

const (
	// RevokedKeyPrefix is the Redis key prefix for revoked access tokens.
	RevokedKeyPrefix = "revoked:"

	BackendRedis  = "redis"
	BackendMemory = "memory"

	defaultSweepInterval = time.Minute
)

// RevocationList holds access tokens invalidated before their natural expiry.
// An entry lives exactly as long as the token it revokes.
type RevocationList interface {
	Add(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// NewRevocationList picks the backend named by configuration. The memory
// backend only sees revocations made by this process.
func NewRevocationList(backend string, client *redis.Client, logger *zap.Logger) (RevocationList, error) {
	switch backend {
	case BackendRedis, "":
		if client == nil {
			return nil, fmt.Errorf("redis revocation backend needs a redis client")
		}
		logger.Info("Token revocation list backed by Redis")
		return NewRedisRevocationList(client, time.Now), nil
	case BackendMemory:
		logger.Warn("Token revocation list is in-memory; revocations are not shared between processes")
		return NewMemoryRevocationList(defaultSweepInterval, time.Now), nil
	default:
		return nil, fmt.Errorf("unknown revocation backend %q", backend)
	}
}

// RedisRevocationList stores one key per revoked token with the token's
// remaining lifetime as the key TTL.
type RedisRevocationList struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRevocationList(client *redis.Client, now func() time.Time) *RedisRevocationList {
	if now == nil {
		now = time.Now
	}
	return &RedisRevocationList{client: client, now: now}
}

func (r *RedisRevocationList) Add(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	count, err := r.client.Exists(ctx, revokedKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return count > 0, nil
}

// Keys hold a digest so raw bearer tokens never sit in Redis.
func revokedKey(token string) string {
	return RevokedKeyPrefix + utils.HashToken(token)
}

// MemoryRevocationList is a process-local fallback. A background sweep drops
// entries whose token has expired; Close stops it.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryRevocationList(sweepInterval time.Duration, now func() time.Time) *MemoryRevocationList {
	if now == nil {
		now = time.Now
	}
	m := &MemoryRevocationList{
		entries: make(map[string]time.Time),
		now:     now,
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.sweepLoop(sweepInterval)
	}
	return m
}

func (m *MemoryRevocationList) Add(_ context.Context, token string, expiresAt time.Time) error {
	if !expiresAt.After(m.now()) {
		return nil
	}
	m.mu.Lock()
	m.entries[utils.HashToken(token)] = expiresAt
	m.mu.Unlock()
	return nil
}

func (m *MemoryRevocationList) IsRevoked(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[utils.HashToken(token)]
	return ok && exp.After(m.now()), nil
}

// Len reports the number of tracked entries, expired or not.
func (m *MemoryRevocationList) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep removes expired entries.
func (m *MemoryRevocationList) Sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, k)
		}
	}
}

func (m *MemoryRevocationList) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryRevocationList) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}
