package services

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/AnshRaj112/loanhub-backend/internal/models"
	"github.com/AnshRaj112/loanhub-backend/internal/store"
)

const (
	// SuspiciousWindow is how far back a device counts as recently seen.
	SuspiciousWindow = 24 * time.Hour

	fingerprintSeed = 0x6c6f616e
)

// DeviceContext describes the client behind one request.
type DeviceContext struct {
	Fingerprint string
	UserAgent   string
	IP          string
}

// DeviceFromRequest builds a DeviceContext. ip is resolved by the caller so
// proxy trust stays a transport decision.
func DeviceFromRequest(r *http.Request, ip string) DeviceContext {
	return DeviceContext{
		Fingerprint: DeviceFingerprint(r.Header),
		UserAgent:   r.UserAgent(),
		IP:          ip,
	}
}

// DeviceFingerprint hashes user-agent, accept-language and accept-encoding.
// It separates devices for session bookkeeping; it is not an identifier.
func DeviceFingerprint(h http.Header) string {
	hasher := murmur3.New128WithSeed(fingerprintSeed)
	_, _ = hasher.Write([]byte(strings.Join([]string{
		h.Get("User-Agent"),
		h.Get("Accept-Language"),
		h.Get("Accept-Encoding"),
	}, "|")))
	return hex.EncodeToString(hasher.Sum(nil))
}

// SessionTracker records the devices an identity has logged in from.
type SessionTracker struct {
	store       store.CredentialStore
	maxSessions int
	window      time.Duration
	now         func() time.Time
}

func NewSessionTracker(s store.CredentialStore, now func() time.Time) *SessionTracker {
	if now == nil {
		now = time.Now
	}
	return &SessionTracker{
		store:       s,
		maxSessions: models.MaxActiveSessions,
		window:      SuspiciousWindow,
		now:         now,
	}
}

// AddSession upserts by fingerprint and keeps the newest sessions only.
func (t *SessionTracker) AddSession(ctx context.Context, userID string, device DeviceContext) error {
	return t.store.UpsertSession(ctx, userID, models.Session{
		DeviceFingerprint: device.Fingerprint,
		LastActive:        t.now(),
		UserAgent:         device.UserAgent,
		IPAddress:         device.IP,
	}, t.maxSessions)
}

func (t *SessionTracker) RemoveSession(ctx context.Context, userID, fingerprint string) error {
	return t.store.RemoveSession(ctx, userID, fingerprint)
}

func (t *SessionTracker) ClearSessions(ctx context.Context, userID string) error {
	return t.store.ClearSessions(ctx, userID)
}

// IsSuspicious reports a login from a device not seen in the recent window,
// provided some device was seen in it. Call it before AddSession.
func (t *SessionTracker) IsSuspicious(user *models.User, fingerprint string) bool {
	cutoff := t.now().Add(-t.window)
	recent := 0
	for _, s := range user.ActiveSessions {
		if s.LastActive.Before(cutoff) {
			continue
		}
		if s.DeviceFingerprint == fingerprint {
			return false
		}
		recent++
	}
	return recent > 0
}
