package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
	"github.com/AnshRaj112/loanhub-backend/internal/store"
	"github.com/AnshRaj112/loanhub-backend/pkg/utils"
)

func TestDeviceFingerprintIsStable(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0")
	h.Set("Accept-Language", "en-IN")
	h.Set("Accept-Encoding", "gzip")

	a := DeviceFingerprint(h)
	if a != DeviceFingerprint(h.Clone()) {
		t.Fatal("same headers must give the same fingerprint")
	}
	if len(a) != 32 {
		t.Fatalf("expected 128-bit hex digest, got %q", a)
	}

	h.Set("Accept-Language", "hi-IN")
	if DeviceFingerprint(h) == a {
		t.Fatal("different headers should change the fingerprint")
	}
}

func TestDeviceFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	r.Header.Set("User-Agent", "curl/8.0")

	d := DeviceFromRequest(r, "203.0.113.9")
	if d.UserAgent != "curl/8.0" || d.IP != "203.0.113.9" || d.Fingerprint != DeviceFingerprint(r.Header) {
		t.Fatalf("unexpected device %+v", d)
	}
}

func TestIsSuspicious(t *testing.T) {
	now := time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)
	tracker := NewSessionTracker(store.NewMemoryStore(), func() time.Time { return now })

	cases := []struct {
		name     string
		sessions []models.Session
		fp       string
		want     bool
	}{
		{"no sessions", nil, "x", false},
		{"known recent device", []models.Session{{DeviceFingerprint: "x", LastActive: now.Add(-time.Hour)}}, "x", false},
		{"new device with recent activity", []models.Session{{DeviceFingerprint: "y", LastActive: now.Add(-time.Hour)}}, "x", true},
		{"only stale sessions", []models.Session{{DeviceFingerprint: "y", LastActive: now.Add(-25 * time.Hour)}}, "x", false},
		{"known device gone stale", []models.Session{
			{DeviceFingerprint: "x", LastActive: now.Add(-48 * time.Hour)},
			{DeviceFingerprint: "y", LastActive: now.Add(-time.Minute)},
		}, "x", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tracker.IsSuspicious(&models.User{ActiveSessions: tc.sessions}, tc.fp)
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMultiSinkStampsOnce(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	MultiSink{a, b, NewLogAuditSink(zap.NewNop())}.Log(context.Background(), models.AuditEvent{Kind: models.AuditLogout})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatal("event not fanned out")
	}
	if a.events[0].Timestamp.IsZero() || !a.events[0].Timestamp.Equal(b.events[0].Timestamp) {
		t.Fatal("sinks should see the same timestamp")
	}
}

func TestUserServiceStatusAndAdminProvisioning(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	sink := &recordingSink{}
	users := NewUserService(st, utils.NewBcryptHasher(bcrypt.MinCost), sink, zap.NewNop(), nil)

	admin, created, err := users.CreateAdmin(ctx, "Root@Example.com", testPassword, "", "")
	if err != nil || !created {
		t.Fatalf("create admin: %v %v", created, err)
	}
	if admin.Role != models.RoleAdmin || !admin.IsActive || admin.Email != "root@example.com" {
		t.Fatalf("unexpected admin %+v", admin)
	}

	partner := &models.User{Email: "p@example.com", Role: models.RolePartner, IsActive: true}
	_ = st.Create(ctx, partner)

	updated, err := users.SetStatus(ctx, admin.IDHex(), partner.IDHex(), false, models.OnboardingRejected)
	if err != nil {
		t.Fatal(err)
	}
	if updated.IsActive || updated.OnboardingStatus != models.OnboardingRejected {
		t.Fatalf("status not applied: %+v", updated)
	}
	if sink.count(models.AuditAccountStatus) != 1 {
		t.Fatal("status change not audited")
	}

	if _, err := users.SetStatus(ctx, admin.IDHex(), admin.IDHex(), false, ""); err == nil {
		t.Fatal("admin deactivated themselves")
	}
	if _, err := users.SetStatus(ctx, admin.IDHex(), partner.IDHex(), true, "bogus"); err == nil {
		t.Fatal("invalid status accepted")
	}
	if _, err := users.GetUser(ctx, "000000000000000000000000"); auth.AsError(err) != auth.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	// Promoting an existing identity keeps its password.
	promoted, created, err := users.CreateAdmin(ctx, "p@example.com", "", "", "")
	if err != nil || created || promoted.Role != models.RoleAdmin || !promoted.IsActive {
		t.Fatalf("promotion failed: %+v %v %v", promoted, created, err)
	}
	if sink.count(models.AuditAdminProvisioned) != 2 {
		t.Fatal("admin provisioning not audited")
	}
}
