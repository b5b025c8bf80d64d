package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
	"github.com/AnshRaj112/loanhub-backend/internal/store"
	"github.com/AnshRaj112/loanhub-backend/pkg/utils"
)

// UserService holds the admin-only identity operations.
type UserService struct {
	store  store.CredentialStore
	hasher utils.PasswordHasher
	audit  AuditSink
	logger *zap.Logger
	now    func() time.Time
}

func NewUserService(s store.CredentialStore, hasher utils.PasswordHasher, audit AuditSink, logger *zap.Logger, now func() time.Time) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{store: s, hasher: hasher, audit: audit, logger: logger, now: now}
}

// GetUser returns the public projection of any identity.
func (u *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := u.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrNotFound
		}
		return nil, auth.Internal(err)
	}
	return user, nil
}

// SetStatus activates or deactivates an identity. An empty status leaves the
// onboarding state alone.
func (u *UserService) SetStatus(ctx context.Context, actorID, id string, active bool, status models.OnboardingStatus) (*models.User, error) {
	switch status {
	case "", models.OnboardingIncomplete, models.OnboardingPending, models.OnboardingApproved, models.OnboardingRejected:
	default:
		return nil, auth.Validation("Invalid onboarding status")
	}
	if actorID == id && !active {
		return nil, auth.Validation("Administrators cannot deactivate themselves")
	}

	if err := u.store.SetActive(ctx, id, active, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrNotFound
		}
		return nil, auth.Internal(err)
	}

	u.audit.Log(ctx, models.AuditEvent{
		Kind:    models.AuditAccountStatus,
		UserID:  id,
		Success: true,
		Metadata: map[string]any{
			"actor_id":          actorID,
			"is_active":         active,
			"onboarding_status": string(status),
		},
		Timestamp: u.now().UTC(),
	})
	u.logger.Info("Account status changed",
		zap.String("user_id", id),
		zap.String("actor_id", actorID),
		zap.Bool("is_active", active),
	)
	return u.GetUser(ctx, id)
}

// CreateAdmin provisions an administrator. It is the only way an identity
// gets the admin role; if the email already exists that identity is
// promoted and reactivated instead.
func (u *UserService) CreateAdmin(ctx context.Context, email, password, firstName, lastName string) (*models.User, bool, error) {
	email = utils.NormalizeEmail(email)
	if err := utils.ValidateEmail(email); err != nil {
		return nil, false, err
	}

	existing, err := u.store.FindByEmailWithSecrets(ctx, email)
	switch {
	case err == nil:
		if err := u.store.SetRole(ctx, existing.IDHex(), models.RoleAdmin); err != nil {
			return nil, false, fmt.Errorf("promote admin: %w", err)
		}
		if err := u.store.SetActive(ctx, existing.IDHex(), true, models.OnboardingApproved); err != nil {
			return nil, false, fmt.Errorf("activate admin: %w", err)
		}
		user, err := u.store.FindByID(ctx, existing.IDHex())
		if err != nil {
			return nil, false, err
		}
		u.recordProvisioned(ctx, user, false)
		return user, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	if err := utils.ValidatePassword(password); err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(firstName) == "" {
		firstName = "Admin"
	}
	if strings.TrimSpace(lastName) == "" {
		lastName = "User"
	}
	hash, err := u.hasher.HashPassword(password)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}

	now := u.now().UTC()
	user := &models.User{
		CreatedAt:         now,
		UpdatedAt:         now,
		Email:             email,
		FirstName:         strings.TrimSpace(firstName),
		LastName:          strings.TrimSpace(lastName),
		Role:              models.RoleAdmin,
		IsActive:          true,
		OnboardingStatus:  models.OnboardingApproved,
		EmailVerified:     true,
		PasswordHash:      hash,
		PasswordChangedAt: &now,
	}
	if err := u.store.Create(ctx, user); err != nil {
		return nil, false, err
	}
	created, err := u.store.FindByID(ctx, user.IDHex())
	if err != nil {
		return nil, false, err
	}
	u.recordProvisioned(ctx, created, true)
	return created, true, nil
}

func (u *UserService) recordProvisioned(ctx context.Context, user *models.User, created bool) {
	u.audit.Log(ctx, models.AuditEvent{
		Kind:      models.AuditAdminProvisioned,
		UserID:    user.IDHex(),
		Email:     user.Email,
		Success:   true,
		Metadata:  map[string]any{"created": created},
		Timestamp: u.now().UTC(),
	})
}
