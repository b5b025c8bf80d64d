package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/database"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
)

// newTestMongoStore connects to MONGODB_TEST_URI and gives each test its own
// database, dropped on cleanup.
func newTestMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx := context.Background()
	name := "loanhub_test_" + primitive.NewObjectID().Hex()
	client, db, err := database.Connect(ctx, uri, name, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = database.Disconnect(client)
	})

	s := NewMongoStore(db)
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return s
}

func TestMongoStoreCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore(t)

	if err := s.Create(ctx, &models.User{Email: "a@example.com", Phone: "+919876543210"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, &models.User{Email: "a@example.com"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	if err := s.Create(ctx, &models.User{Email: "b@example.com", Phone: "+919876543210"}); !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("expected duplicate phone, got %v", err)
	}
	for _, email := range []string{"c@example.com", "d@example.com"} {
		if err := s.Create(ctx, &models.User{Email: email}); err != nil {
			t.Fatalf("users without phone must not conflict: %v", err)
		}
	}

	got, err := s.FindByPhoneWithSecrets(ctx, "+919876543210")
	if err != nil || got.Email != "a@example.com" {
		t.Fatalf("phone lookup: %v %+v", err, got)
	}
}

func TestMongoStorePublicProjectionHidesSecrets(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore(t)
	u := seedUser(t, s, "a@example.com")
	_ = s.SetRefreshToken(ctx, u.IDHex(), "refresh-hash", testNow.Add(time.Hour))
	_ = s.SetOTP(ctx, u.IDHex(), "otp-hash", testNow.Add(time.Minute))

	pub, err := s.FindByID(ctx, u.IDHex())
	if err != nil {
		t.Fatal(err)
	}
	if pub.PasswordHash != "" || pub.RefreshTokenHash != "" || pub.OTPHash != "" || pub.Email != "a@example.com" {
		t.Fatalf("unexpected public projection: %+v", pub)
	}

	full, _ := s.FindByIDWithSecrets(ctx, u.IDHex())
	if full.PasswordHash != "hash-0" || full.RefreshTokenHash != "refresh-hash" {
		t.Fatalf("secret lookup missing fields: %+v", full)
	}
	if _, err := s.FindByID(ctx, primitive.NewObjectID().Hex()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMongoStoreLoginFailuresAreAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore(t)
	u := seedUser(t, s, "a@example.com")
	policy := auth.NewLockoutPolicy(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RecordLoginFailure(ctx, u.IDHex(), policy, testNow); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.FindByIDWithSecrets(ctx, u.IDHex())
	if got.FailedLoginAttempts != 50 || got.LockUntil != nil {
		t.Fatalf("expected 50 attempts and no lock, got %d %v", got.FailedLoginAttempts, got.LockUntil)
	}
}

func TestMongoStoreLockoutLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore(t)
	u := seedUser(t, s, "a@example.com")
	policy := auth.NewLockoutPolicy(5, 30*time.Minute)

	var state auth.LockoutState
	for i := 1; i <= 5; i++ {
		var err error
		state, err = s.RecordLoginFailure(ctx, u.IDHex(), policy, testNow)
		if err != nil {
			t.Fatal(err)
		}
		if state.FailedAttempts != i {
			t.Fatalf("attempt %d counted as %d", i, state.FailedAttempts)
		}
	}
	if state.LockUntil == nil || !state.LockUntil.Equal(testNow.Add(30*time.Minute)) {
		t.Fatalf("expected lock until %v, got %v", testNow.Add(30*time.Minute), state.LockUntil)
	}

	// Once the lock has run out the next failure starts a fresh window.
	state, err := s.RecordLoginFailure(ctx, u.IDHex(), policy, testNow.Add(31*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if state.FailedAttempts != 1 || state.LockUntil != nil {
		t.Fatalf("expected fresh window, got %+v", state)
	}
	stored, _ := s.FindByIDWithSecrets(ctx, u.IDHex())
	if stored.FailedLoginAttempts != 1 || stored.LockUntil != nil {
		t.Fatalf("stored state not reset: %d %v", stored.FailedLoginAttempts, stored.LockUntil)
	}

	if err := s.RecordLoginSuccess(ctx, u.IDHex(), testNow.Add(32*time.Minute)); err != nil {
		t.Fatal(err)
	}
	stored, _ = s.FindByIDWithSecrets(ctx, u.IDHex())
	if stored.FailedLoginAttempts != 0 || stored.LockUntil != nil || stored.LastLoginAt == nil {
		t.Fatalf("success did not reset: %+v", stored)
	}
}

func TestMongoStoreUpdatePassword(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore(t)
	u := seedUser(t, s, "a@example.com")
	_ = s.SetResetToken(ctx, u.IDHex(), "reset", testNow.Add(time.Hour))
	_ = s.SetRefreshToken(ctx, u.IDHex(), "refresh", testNow.Add(time.Hour))

	for i := 1; i <= 7; i++ {
		err := s.UpdatePassword(ctx, u.IDHex(), PasswordUpdate{
			CurrentHash:      fmt.Sprintf("hash-%d", i-1),
			NewHash:          fmt.Sprintf("hash-%d", i),
			HistorySize:      models.MaxPasswordHistory,
			ClearCredentials: i == 7,
		}, testNow)
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	got, _ := s.FindByIDWithSecrets(ctx, u.IDHex())
	if got.PasswordHash != "hash-7" || len(got.PasswordHistory) != models.MaxPasswordHistory {
		t.Fatalf("unexpected password state %q %+v", got.PasswordHash, got.PasswordHistory)
	}
	if got.PasswordHistory[0].Hash != "hash-2" || got.PasswordHistory[4].Hash != "hash-6" {
		t.Fatalf("unexpected history %+v", got.PasswordHistory)
	}
	if got.ResetTokenHash != "" || got.RefreshTokenHash != "" {
		t.Fatal("credentials should be cleared")
	}

	err := s.UpdatePassword(ctx, u.IDHex(), PasswordUpdate{CurrentHash: "stale", NewHash: "x", HistorySize: 5}, testNow)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMongoStoreResetTokenLookupHonoursExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore(t)
	u := seedUser(t, s, "a@example.com")
	_ = s.SetResetToken(ctx, u.IDHex(), "reset", testNow.Add(time.Hour))

	if _, err := s.FindByResetToken(ctx, "reset", testNow); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := s.FindByResetToken(ctx, "reset", testNow.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired token matched: %v", err)
	}
}

func TestMongoStoreOTPConsumeAndAttempts(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore(t)
	u := seedUser(t, s, "a@example.com")
	_ = s.SetOTP(ctx, u.IDHex(), "otp", testNow.Add(10*time.Minute))

	if ok, _ := s.ConsumeOTP(ctx, u.IDHex(), "wrong", testNow); ok {
		t.Fatal("wrong otp consumed")
	}
	if ok, _ := s.ConsumeOTP(ctx, u.IDHex(), "otp", testNow.Add(11*time.Minute)); ok {
		t.Fatal("expired otp consumed")
	}
	if ok, _ := s.ConsumeOTP(ctx, u.IDHex(), "otp", testNow); !ok {
		t.Fatal("valid otp rejected")
	}
	if ok, _ := s.ConsumeOTP(ctx, u.IDHex(), "otp", testNow); ok {
		t.Fatal("otp consumed twice")
	}

	_ = s.SetOTP(ctx, u.IDHex(), "otp2", testNow.Add(10*time.Minute))
	for i := 1; i <= 3; i++ {
		n, err := s.RecordOTPFailure(ctx, u.IDHex(), 3)
		if err != nil || n != i {
			t.Fatalf("attempt %d counted as %d: %v", i, n, err)
		}
	}
	stored, _ := s.FindByIDWithSecrets(ctx, u.IDHex())
	if stored.OTPHash != "" || stored.OTPExpiry != nil {
		t.Fatalf("otp should be cleared after max attempts: %+v", stored)
	}
	if n, err := s.RecordOTPFailure(ctx, u.IDHex(), 3); err != nil || n != 0 {
		t.Fatalf("failure without an otp: %d %v", n, err)
	}

	if err := s.MarkVerified(ctx, u.IDHex(), false, true); err != nil {
		t.Fatal(err)
	}
	stored, _ = s.FindByIDWithSecrets(ctx, u.IDHex())
	if stored.EmailVerified || !stored.PhoneVerified {
		t.Fatalf("unexpected verified flags: %+v", stored)
	}
}

func TestMongoStoreSessionsUpsertAndCap(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore(t)
	u := seedUser(t, s, "a@example.com")

	for i := 0; i < 12; i++ {
		sess := models.Session{DeviceFingerprint: fmt.Sprintf("fp-%d", i), LastActive: testNow.Add(time.Duration(i) * time.Minute)}
		if err := s.UpsertSession(ctx, u.IDHex(), sess, models.MaxActiveSessions); err != nil {
			t.Fatal(err)
		}
		if i == models.MaxActiveSessions {
			got, _ := s.FindByIDWithSecrets(ctx, u.IDHex())
			if len(got.ActiveSessions) != models.MaxActiveSessions || got.ActiveSessions[0].DeviceFingerprint != "fp-1" {
				t.Fatalf("11th session should evict the oldest: %+v", got.ActiveSessions)
			}
		}
	}
	got, _ := s.FindByIDWithSecrets(ctx, u.IDHex())
	if len(got.ActiveSessions) != models.MaxActiveSessions || got.ActiveSessions[0].DeviceFingerprint != "fp-2" {
		t.Fatalf("unexpected sessions %+v", got.ActiveSessions)
	}

	later := testNow.Add(time.Hour)
	err := s.UpsertSession(ctx, u.IDHex(), models.Session{DeviceFingerprint: "fp-5", LastActive: later, UserAgent: "Safari"}, models.MaxActiveSessions)
	if err != nil {
		t.Fatal(err)
	}
	got, _ = s.FindByIDWithSecrets(ctx, u.IDHex())
	if len(got.ActiveSessions) != models.MaxActiveSessions || !got.ActiveSessions[3].LastActive.Equal(later) || got.ActiveSessions[3].UserAgent != "Safari" {
		t.Fatalf("existing fingerprint not updated in place: %+v", got.ActiveSessions)
	}

	_ = s.RemoveSession(ctx, u.IDHex(), "fp-5")
	got, _ = s.FindByIDWithSecrets(ctx, u.IDHex())
	if len(got.ActiveSessions) != models.MaxActiveSessions-1 {
		t.Fatalf("remove failed: %d sessions", len(got.ActiveSessions))
	}

	_ = s.ClearSessions(ctx, u.IDHex())
	got, _ = s.FindByIDWithSecrets(ctx, u.IDHex())
	if len(got.ActiveSessions) != 0 {
		t.Fatal("clear failed")
	}

	if err := s.UpsertSession(ctx, primitive.NewObjectID().Hex(), models.Session{DeviceFingerprint: "x"}, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
