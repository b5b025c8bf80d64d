package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisRevocationListTTLFollowsToken(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	list := NewRedisRevocationList(client, func() time.Time { return now })

	if err := list.Add(ctx, "token-a", now.Add(10*time.Minute)); err != nil {
		t.Fatalf("add: %v", err)
	}
	revoked, err := list.IsRevoked(ctx, "token-a")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v %v", revoked, err)
	}
	if other, _ := list.IsRevoked(ctx, "token-b"); other {
		t.Fatal("unrelated token reported revoked")
	}

	key := revokedKey("token-a")
	if ttl := mr.TTL(key); ttl != 10*time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	for _, k := range mr.Keys() {
		if k == RevokedKeyPrefix+"token-a" {
			t.Fatal("raw token stored as key")
		}
	}

	mr.FastForward(10*time.Minute + time.Second)
	if revoked, _ := list.IsRevoked(ctx, "token-a"); revoked {
		t.Fatal("entry should expire with the token")
	}
}

func TestRedisRevocationListSkipsExpiredTokens(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	now := time.Now()
	list := NewRedisRevocationList(client, func() time.Time { return now })

	if err := list.Add(ctx, "old", now.Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expired token should not be stored: %v", mr.Keys())
	}
}

func TestRedisRevocationListReportsBackendErrors(t *testing.T) {
	mr, client := newMiniredis(t)
	list := NewRedisRevocationList(client, nil)
	mr.Close()

	if _, err := list.IsRevoked(context.Background(), "token"); err == nil {
		t.Fatal("expected error when redis is down")
	}
}

func TestMemoryRevocationList(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	list := NewMemoryRevocationList(0, func() time.Time { return now })
	defer list.Close()

	_ = list.Add(ctx, "a", now.Add(time.Minute))
	_ = list.Add(ctx, "b", now.Add(time.Hour))
	_ = list.Add(ctx, "expired", now)

	if revoked, _ := list.IsRevoked(ctx, "a"); !revoked {
		t.Fatal("a should be revoked")
	}
	if list.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", list.Len())
	}

	now = now.Add(2 * time.Minute)
	if revoked, _ := list.IsRevoked(ctx, "a"); revoked {
		t.Fatal("a should have lapsed")
	}
	list.Sweep()
	if list.Len() != 1 {
		t.Fatalf("sweep left %d entries", list.Len())
	}
	list.Close()
	list.Close()
}

func TestNewRevocationListSelectsBackend(t *testing.T) {
	_, client := newMiniredis(t)
	logger := zap.NewNop()

	l, err := NewRevocationList(BackendRedis, client, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*RedisRevocationList); !ok {
		t.Fatalf("expected redis list, got %T", l)
	}

	l, err = NewRevocationList(BackendMemory, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	mem, ok := l.(*MemoryRevocationList)
	if !ok {
		t.Fatalf("expected memory list, got %T", l)
	}
	mem.Close()

	if _, err := NewRevocationList(BackendRedis, nil, logger); err == nil {
		t.Fatal("redis backend without client should fail")
	}
	if _, err := NewRevocationList("etcd", nil, logger); err == nil {
		t.Fatal("unknown backend should fail")
	}
}
