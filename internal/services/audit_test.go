package services

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/models"
)

type blockingInsert struct {
	mu      sync.Mutex
	release chan struct{}
	started chan struct{}
	once    sync.Once
	written []models.AuditKind
}

func newBlockingInsert() *blockingInsert {
	return &blockingInsert{release: make(chan struct{}), started: make(chan struct{})}
}

func (b *blockingInsert) insert(_ context.Context, e models.AuditEvent) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	b.mu.Lock()
	b.written = append(b.written, e.Kind)
	b.mu.Unlock()
	return nil
}

func TestMongoAuditSinkDropsWhenQueueIsFull(t *testing.T) {
	w := newBlockingInsert()
	sink := newMongoAuditSink(w.insert, 2, zap.NewNop())

	// The writer picks up the first event and blocks on it.
	sink.Log(context.Background(), models.AuditEvent{Kind: models.AuditLoginFailure})
	<-w.started

	for i := 0; i < 5; i++ {
		sink.Log(context.Background(), models.AuditEvent{Kind: models.AuditLoginFailure})
	}
	if got := sink.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped events, got %d", got)
	}

	close(w.release)
	sink.Close()

	if len(w.written) != 3 {
		t.Fatalf("expected 3 written events, got %d", len(w.written))
	}
}

func TestMongoAuditSinkCloseDrainsQueue(t *testing.T) {
	w := newBlockingInsert()
	close(w.release)
	sink := newMongoAuditSink(w.insert, 16, zap.NewNop())

	kinds := []models.AuditKind{models.AuditRegister, models.AuditLoginSuccess, models.AuditLogout}
	for _, k := range kinds {
		sink.Log(context.Background(), models.AuditEvent{Kind: k})
	}
	sink.Close()

	if len(w.written) != len(kinds) {
		t.Fatalf("expected %d written events, got %v", len(kinds), w.written)
	}
	for i, k := range kinds {
		if w.written[i] != k {
			t.Fatalf("event %d: got %s, want %s", i, w.written[i], k)
		}
	}

	// Events after Close are ignored rather than panicking on a closed queue.
	sink.Log(context.Background(), models.AuditEvent{Kind: models.AuditLogout})
	sink.Close()
	if len(w.written) != len(kinds) || sink.Dropped() != 0 {
		t.Fatalf("event accepted after close: %v", w.written)
	}
}
