package services

import (
	"context"
	"fmt"
	"time"

	"github.com/AnshRaj112/loanhub-backend/internal/store"
	"github.com/AnshRaj112/loanhub-backend/pkg/utils"
)

const (
	DefaultOTPTTL         = 5 * time.Minute
	DefaultOTPMaxAttempts = 5
)

// OTPManager issues and checks single-use 6-digit codes. Only the sha256 of
// a code is stored.
type OTPManager struct {
	store       store.CredentialStore
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewOTPManager(s store.CredentialStore, ttl time.Duration, maxAttempts int, now func() time.Time) *OTPManager {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOTPMaxAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &OTPManager{store: s, ttl: ttl, maxAttempts: maxAttempts, now: now}
}

// Generate replaces any outstanding code and returns the new one in
// plaintext. It is never stored or logged in that form.
func (m *OTPManager) Generate(ctx context.Context, userID string) (string, error) {
	code, err := utils.GenerateOTP()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	if err := m.store.SetOTP(ctx, userID, utils.HashToken(code), m.now().Add(m.ttl)); err != nil {
		return "", err
	}
	return code, nil
}

// Verify consumes the code when it matches and has not expired. A miss
// counts against the attempt cap; hitting the cap discards the code.
func (m *OTPManager) Verify(ctx context.Context, userID, candidate string) (bool, error) {
	if candidate == "" {
		return false, nil
	}
	ok, err := m.store.ConsumeOTP(ctx, userID, utils.HashToken(candidate), m.now())
	if err != nil || ok {
		return ok, err
	}
	if _, err := m.store.RecordOTPFailure(ctx, userID, m.maxAttempts); err != nil {
		return false, err
	}
	return false, nil
}
