// Package store persists identity records. Every mutation is a single atomic
// update of one document; nothing here reads a record, edits it in memory and
// writes it back.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrDuplicatePhone = errors.New("phone already registered")
	// ErrConflict means a conditional update lost a race.
	ErrConflict = errors.New("concurrent update conflict")
)

// PasswordUpdate replaces a password hash. CurrentHash guards against a
// concurrent change; it is also what gets pushed onto the history.
type PasswordUpdate struct {
	CurrentHash string
	NewHash     string
	HistorySize int
	// ClearCredentials drops reset-token and refresh-token fields, forcing
	// re-login everywhere.
	ClearCredentials bool
}

// CredentialStore is the single source of truth for identities.
//
// FindByID returns the public projection: no hashes, history, OTP, reset or
// refresh fields. The *WithSecrets lookups are for the auth service only.
type CredentialStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDWithSecrets(ctx context.Context, id string) (*models.User, error)
	FindByEmailWithSecrets(ctx context.Context, email string) (*models.User, error)
	FindByPhoneWithSecrets(ctx context.Context, phone string) (*models.User, error)
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)

	RecordLoginFailure(ctx context.Context, id string, policy auth.LockoutPolicy, now time.Time) (auth.LockoutState, error)
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error

	UpdatePassword(ctx context.Context, id string, update PasswordUpdate, now time.Time) error

	SetRefreshToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, id string) error

	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error

	SetOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error
	// ConsumeOTP clears the OTP and returns true only when otpHash matches an
	// unexpired code.
	ConsumeOTP(ctx context.Context, id, otpHash string, now time.Time) (bool, error)
	// RecordOTPFailure counts a wrong guess and clears the OTP once
	// maxAttempts is reached. It returns the attempt count.
	RecordOTPFailure(ctx context.Context, id string, maxAttempts int) (int, error)
	MarkVerified(ctx context.Context, id string, email, phone bool) error

	// UpsertSession replaces the session with the same fingerprint in place,
	// or appends and keeps only the newest maxSessions.
	UpsertSession(ctx context.Context, id string, session models.Session, maxSessions int) error
	RemoveSession(ctx context.Context, id, fingerprint string) error
	ClearSessions(ctx context.Context, id string) error

	SetActive(ctx context.Context, id string, active bool, status models.OnboardingStatus) error
	SetRole(ctx context.Context, id string, role models.Role) error
}
