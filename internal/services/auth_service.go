package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/logger"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
	"github.com/AnshRaj112/loanhub-backend/internal/store"
	"github.com/AnshRaj112/loanhub-backend/pkg/utils"
)

const (
	DefaultResetTokenTTL = 10 * time.Minute
	resetTokenBytes      = 32
)

// AuthOptions are the tunables of AuthService that do not belong to a
// collaborator.
type AuthOptions struct {
	ResetTokenTTL         time.Duration
	EnforceRefreshBinding bool
	// ResetURL is the frontend page that accepts ?token=.
	ResetURL string
}

// AuthDeps wires AuthService. Every field except Now is required.
type AuthDeps struct {
	Store       store.CredentialStore
	Hasher      utils.PasswordHasher
	Tokens      *auth.TokenIssuer
	Lockout     auth.LockoutPolicy
	Revocations RevocationList
	Sessions    *SessionTracker
	OTPs        *OTPManager
	Audit       AuditSink
	Notifier    Notifier
	Logger      *zap.Logger
	Now         func() time.Time
	Options     AuthOptions
}

// AuthService owns credential verification and the password, token, OTP and
// session lifecycles.
type AuthService struct {
	store       store.CredentialStore
	hasher      utils.PasswordHasher
	tokens      *auth.TokenIssuer
	lockout     auth.LockoutPolicy
	revocations RevocationList
	sessions    *SessionTracker
	otps        *OTPManager
	audit       AuditSink
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
	opts        AuthOptions

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(d AuthDeps) *AuthService {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Options.ResetTokenTTL <= 0 {
		d.Options.ResetTokenTTL = DefaultResetTokenTTL
	}
	return &AuthService{
		store:       d.Store,
		hasher:      d.Hasher,
		tokens:      d.Tokens,
		lockout:     d.Lockout,
		revocations: d.Revocations,
		sessions:    d.Sessions,
		otps:        d.OTPs,
		audit:       d.Audit,
		notifier:    d.Notifier,
		logger:      d.Logger,
		now:         d.Now,
		opts:        d.Options,
	}
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// LoginResult is what a successful register, login or OTP verification
// hands back. User is the public projection.
type LoginResult struct {
	User             *models.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Suspicious       bool
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, device DeviceContext) (*LoginResult, error) {
	email := utils.NormalizeEmail(in.Email)
	if err := utils.ValidateEmail(email); err != nil {
		return nil, auth.Validation(err.Error())
	}
	if err := utils.ValidatePassword(in.Password); err != nil {
		return nil, auth.WeakPassword(err.Error())
	}
	if err := utils.ValidateName("firstName", in.FirstName); err != nil {
		return nil, auth.Validation(err.Error())
	}
	if err := utils.ValidateName("lastName", in.LastName); err != nil {
		return nil, auth.Validation(err.Error())
	}
	phone := ""
	if strings.TrimSpace(in.Phone) != "" {
		if err := utils.ValidatePhone(in.Phone); err != nil {
			return nil, auth.Validation(err.Error())
		}
		phone = utils.NormalizePhone(in.Phone)
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return nil, auth.Internal(fmt.Errorf("hash password: %w", err))
	}

	now := s.now().UTC()
	user := &models.User{
		CreatedAt:         now,
		UpdatedAt:         now,
		Email:             email,
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		Phone:             phone,
		Role:              models.RolePartner,
		IsActive:          true,
		OnboardingStatus:  models.OnboardingIncomplete,
		PasswordHash:      hash,
		PasswordChangedAt: &now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, auth.ErrDuplicateEmail
		}
		if errors.Is(err, store.ErrDuplicatePhone) {
			return nil, auth.ErrDuplicatePhone
		}
		return nil, auth.Internal(err)
	}

	result, err := s.startSession(ctx, user, device)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditRegister, user.IDHex(), email, device, true, "", nil)
	s.logger.Info("Partner registered", zap.String("user_id", user.IDHex()), zap.String("email", logger.MaskEmail(email)))
	return result, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string, device DeviceContext) (*LoginResult, error) {
	email = utils.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, auth.Validation("Email and password are required")
	}

	user, err := s.store.FindByEmailWithSecrets(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, auth.Internal(err)
		}
		// Spend the same bcrypt time as a real check.
		s.hasher.VerifyPassword(password, s.timingHash())
		s.record(ctx, models.AuditLoginFailure, "", email, device, false, "unknown_email", nil)
		return nil, auth.ErrInvalidCredentials
	}
	id := user.IDHex()
	now := s.now()

	state := auth.LockoutState{FailedAttempts: user.FailedLoginAttempts, LockUntil: user.LockUntil}
	if s.lockout.IsLocked(state, now) {
		s.record(ctx, models.AuditLoginFailure, id, email, device, false, "account_locked", nil)
		return nil, auth.AccountLocked(s.lockout.RetryAfter(state, now))
	}

	if !user.IsActive {
		s.record(ctx, models.AuditLoginFailure, id, email, device, false, "account_inactive", nil)
		return nil, auth.AccountInactive(pendingApproval(user.OnboardingStatus))
	}

	if !s.hasher.VerifyPassword(password, user.PasswordHash) {
		next, err := s.store.RecordLoginFailure(ctx, id, s.lockout, now)
		if err != nil {
			return nil, auth.Internal(err)
		}
		s.record(ctx, models.AuditLoginFailure, id, email, device, false, "invalid_password",
			map[string]any{"failed_attempts": next.FailedAttempts})
		if s.lockout.IsLocked(next, now) {
			s.record(ctx, models.AuditAccountLocked, id, email, device, false, "too_many_failures",
				map[string]any{"lock_until": next.LockUntil.UTC()})
			s.logger.Warn("Account locked after repeated login failures",
				zap.String("user_id", id),
				zap.String("ip", device.IP),
				zap.Int("failed_attempts", next.FailedAttempts),
			)
		}
		return nil, auth.ErrInvalidCredentials
	}

	if err := s.store.RecordLoginSuccess(ctx, id, now.UTC()); err != nil {
		return nil, auth.Internal(err)
	}

	suspicious := s.sessions.IsSuspicious(user, device.Fingerprint)
	if suspicious {
		s.record(ctx, models.AuditSuspiciousLogin, id, email, device, true, "", nil)
		s.logger.Warn("Login from unrecognised device",
			zap.String("user_id", id),
			zap.String("ip", device.IP),
			zap.String("fingerprint", device.Fingerprint),
		)
	}

	result, err := s.startSession(ctx, user, device)
	if err != nil {
		return nil, err
	}
	result.Suspicious = suspicious
	s.record(ctx, models.AuditLoginSuccess, id, email, device, true, "", nil)
	return result, nil
}

// Refresh mints a new access token. The refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device DeviceContext) (string, time.Time, error) {
	if refreshToken == "" {
		return "", time.Time{}, auth.ErrNoToken
	}
	res := s.tokens.VerifyRefresh(refreshToken)
	if !res.OK() {
		return "", time.Time{}, res.AsError()
	}

	user, err := s.store.FindByIDWithSecrets(ctx, res.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", time.Time{}, auth.ErrUserInactive
		}
		return "", time.Time{}, auth.Internal(err)
	}
	if !user.IsActive {
		return "", time.Time{}, auth.ErrUserInactive
	}
	if s.opts.EnforceRefreshBinding && !s.refreshBound(user, refreshToken) {
		s.record(ctx, models.AuditTokenRefresh, user.IDHex(), user.Email, device, false, "refresh_token_not_bound", nil)
		return "", time.Time{}, auth.ErrInvalidToken
	}

	access, exp, err := s.tokens.IssueAccessToken(user.IDHex(), string(user.Role))
	if err != nil {
		return "", time.Time{}, auth.Internal(err)
	}
	s.record(ctx, models.AuditTokenRefresh, user.IDHex(), user.Email, device, true, "", nil)
	return access, exp, nil
}

func (s *AuthService) refreshBound(user *models.User, token string) bool {
	if user.RefreshTokenHash == "" || user.RefreshTokenExpiry == nil || !user.RefreshTokenExpiry.After(s.now()) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(user.RefreshTokenHash), []byte(utils.HashToken(token))) == 1
}

// LogoutRequest identifies the access token being retired and the device it
// was used from.
type LogoutRequest struct {
	UserID          string
	AccessToken     string
	AccessExpiresAt time.Time
	Device          DeviceContext
}

func (s *AuthService) Logout(ctx context.Context, req LogoutRequest) error {
	if err := s.revocations.Add(ctx, req.AccessToken, req.AccessExpiresAt); err != nil {
		return auth.Internal(err)
	}
	if err := s.sessions.RemoveSession(ctx, req.UserID, req.Device.Fingerprint); err != nil && !errors.Is(err, store.ErrNotFound) {
		return auth.Internal(err)
	}
	if s.opts.EnforceRefreshBinding {
		if err := s.store.ClearRefreshToken(ctx, req.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return auth.Internal(err)
		}
	}
	s.record(ctx, models.AuditLogout, req.UserID, "", req.Device, true, "", nil)
	return nil
}

// LogoutAll revokes the presented access token and forgets every device and
// the stored refresh token. Other access tokens lapse on their own TTL.
func (s *AuthService) LogoutAll(ctx context.Context, req LogoutRequest) error {
	if err := s.revocations.Add(ctx, req.AccessToken, req.AccessExpiresAt); err != nil {
		return auth.Internal(err)
	}
	if err := s.sessions.ClearSessions(ctx, req.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return auth.Internal(err)
	}
	if err := s.store.ClearRefreshToken(ctx, req.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return auth.Internal(err)
	}
	s.record(ctx, models.AuditLogoutAll, req.UserID, "", req.Device, true, "", nil)
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string, device DeviceContext) error {
	user, err := s.store.FindByIDWithSecrets(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.ErrNotFound
		}
		return auth.Internal(err)
	}
	if !s.hasher.VerifyPassword(current, user.PasswordHash) {
		s.record(ctx, models.AuditPasswordChange, userID, user.Email, device, false, "incorrect_password", nil)
		return auth.ErrIncorrectPassword
	}
	if err := utils.ValidatePassword(next); err != nil {
		return auth.WeakPassword(err.Error())
	}
	if err := s.replacePassword(ctx, user, next, false); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return auth.ErrIncorrectPassword
		}
		return err
	}
	s.record(ctx, models.AuditPasswordChange, userID, user.Email, device, true, "", nil)
	return nil
}

// ForgotPassword never reveals whether the email exists. All failures are
// logged and swallowed.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, device DeviceContext) {
	email = utils.NormalizeEmail(email)
	if utils.ValidateEmail(email) != nil {
		return
	}
	user, err := s.store.FindByEmailWithSecrets(ctx, email)
	if err != nil || !user.IsActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Password reset lookup failed", zap.Error(err))
		}
		s.record(ctx, models.AuditPasswordResetRequest, "", email, device, false, "no_active_account", nil)
		return
	}

	token, err := utils.GenerateToken(resetTokenBytes)
	if err != nil {
		s.logger.Error("Failed to generate reset token", zap.Error(err))
		return
	}
	if err := s.store.SetResetToken(ctx, user.IDHex(), utils.HashToken(token), s.now().Add(s.opts.ResetTokenTTL)); err != nil {
		s.logger.Error("Failed to store reset token", zap.String("user_id", user.IDHex()), zap.Error(err))
		return
	}
	if err := s.notifier.SendPasswordReset(ctx, user.Email, s.resetLink(token)); err != nil {
		s.logger.Error("Failed to deliver reset link", zap.String("user_id", user.IDHex()), zap.Error(err))
	}
	s.record(ctx, models.AuditPasswordResetRequest, user.IDHex(), email, device, true, "", nil)
}

func (s *AuthService) resetLink(token string) string {
	base := s.opts.ResetURL
	if base == "" {
		return token
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

func (s *AuthService) ResetPassword(ctx context.Context, token, next string, device DeviceContext) error {
	if token == "" {
		return auth.ErrInvalidOrExpired
	}
	user, err := s.store.FindByResetToken(ctx, utils.HashToken(token), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.record(ctx, models.AuditPasswordReset, "", "", device, false, "invalid_or_expired_token", nil)
			return auth.ErrInvalidOrExpired
		}
		return auth.Internal(err)
	}
	if err := utils.ValidatePassword(next); err != nil {
		return auth.WeakPassword(err.Error())
	}
	if err := s.replacePassword(ctx, user, next, true); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return auth.ErrInvalidOrExpired
		}
		return err
	}
	s.record(ctx, models.AuditPasswordReset, user.IDHex(), user.Email, device, true, "", nil)
	return nil
}

// replacePassword rejects reuse of the current or any remembered password,
// then swaps the hash and pushes the old one onto the bounded history.
func (s *AuthService) replacePassword(ctx context.Context, user *models.User, next string, clearCredentials bool) error {
	if s.hasher.VerifyPassword(next, user.PasswordHash) {
		return auth.ErrPasswordReused
	}
	for _, h := range user.PasswordHistory {
		if s.hasher.VerifyPassword(next, h.Hash) {
			return auth.ErrPasswordReused
		}
	}

	hash, err := s.hasher.HashPassword(next)
	if err != nil {
		return auth.Internal(fmt.Errorf("hash password: %w", err))
	}
	err = s.store.UpdatePassword(ctx, user.IDHex(), store.PasswordUpdate{
		CurrentHash:      user.PasswordHash,
		NewHash:          hash,
		HistorySize:      models.MaxPasswordHistory,
		ClearCredentials: clearCredentials,
	}, s.now().UTC())
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return auth.Internal(err)
	}
	return err
}

// SendOTP behaves the same whether or not the account exists.
func (s *AuthService) SendOTP(ctx context.Context, email, phone string, device DeviceContext) error {
	if strings.TrimSpace(email) == "" && strings.TrimSpace(phone) == "" {
		return auth.Validation("Email or phone is required")
	}
	user, err := s.findByChannel(ctx, email, phone)
	if err != nil || !user.IsActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("OTP lookup failed", zap.Error(err))
		}
		return nil
	}

	code, err := s.otps.Generate(ctx, user.IDHex())
	if err != nil {
		s.logger.Error("Failed to issue OTP", zap.String("user_id", user.IDHex()), zap.Error(err))
		return nil
	}
	if err := s.notifier.SendOTP(ctx, user.Email, user.Phone, code); err != nil {
		s.logger.Error("Failed to deliver OTP", zap.String("user_id", user.IDHex()), zap.Error(err))
	}
	s.record(ctx, models.AuditOTPSent, user.IDHex(), user.Email, device, true, "", map[string]any{"channel": channel(email)})
	return nil
}

// VerifyOTP consumes the code and logs the identity in.
func (s *AuthService) VerifyOTP(ctx context.Context, email, phone, code string, device DeviceContext) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" && strings.TrimSpace(phone) == "" {
		return nil, auth.Validation("Email or phone is required")
	}
	user, err := s.findByChannel(ctx, email, phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrInvalidOTP
		}
		return nil, auth.Internal(err)
	}
	id := user.IDHex()

	// A locked or inactive identity keeps its code and verified flags.
	now := s.now()
	state := auth.LockoutState{FailedAttempts: user.FailedLoginAttempts, LockUntil: user.LockUntil}
	if s.lockout.IsLocked(state, now) {
		s.record(ctx, models.AuditOTPVerify, id, user.Email, device, false, "account_locked", nil)
		return nil, auth.AccountLocked(s.lockout.RetryAfter(state, now))
	}
	if !user.IsActive {
		s.record(ctx, models.AuditOTPVerify, id, user.Email, device, false, "account_inactive", nil)
		return nil, auth.AccountInactive(pendingApproval(user.OnboardingStatus))
	}

	ok, err := s.otps.Verify(ctx, id, strings.TrimSpace(code))
	if err != nil {
		return nil, auth.Internal(err)
	}
	if !ok {
		s.record(ctx, models.AuditOTPVerify, id, user.Email, device, false, "invalid_otp", nil)
		return nil, auth.ErrInvalidOTP
	}

	byEmail := strings.TrimSpace(email) != ""
	if err := s.store.MarkVerified(ctx, id, byEmail, !byEmail); err != nil {
		return nil, auth.Internal(err)
	}
	if err := s.store.RecordLoginSuccess(ctx, id, now.UTC()); err != nil {
		return nil, auth.Internal(err)
	}

	result, err := s.startSession(ctx, user, device)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditOTPVerify, id, user.Email, device, true, "", map[string]any{"channel": channel(email)})
	return result, nil
}

func (s *AuthService) findByChannel(ctx context.Context, email, phone string) (*models.User, error) {
	if strings.TrimSpace(email) != "" {
		return s.store.FindByEmailWithSecrets(ctx, utils.NormalizeEmail(email))
	}
	return s.store.FindByPhoneWithSecrets(ctx, utils.NormalizePhone(phone))
}

// Me returns the public projection of the identity.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrNotFound
		}
		return nil, auth.Internal(err)
	}
	return user, nil
}

func (s *AuthService) Sessions(ctx context.Context, userID string) ([]models.Session, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrNotFound
		}
		return nil, auth.Internal(err)
	}
	if user.ActiveSessions == nil {
		return []models.Session{}, nil
	}
	return user.ActiveSessions, nil
}

// startSession issues a token pair, binds the refresh token to the identity
// and records the device.
func (s *AuthService) startSession(ctx context.Context, user *models.User, device DeviceContext) (*LoginResult, error) {
	id := user.IDHex()
	access, accessExp, err := s.tokens.IssueAccessToken(id, string(user.Role))
	if err != nil {
		return nil, auth.Internal(err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefreshToken(id)
	if err != nil {
		return nil, auth.Internal(err)
	}
	if err := s.store.SetRefreshToken(ctx, id, utils.HashToken(refresh), refreshExp); err != nil {
		return nil, auth.Internal(err)
	}
	if err := s.sessions.AddSession(ctx, id, device); err != nil {
		return nil, auth.Internal(err)
	}

	public, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, auth.Internal(err)
	}
	return &LoginResult{
		User:             public,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *AuthService) record(ctx context.Context, kind models.AuditKind, userID, email string, device DeviceContext, success bool, reason string, meta map[string]any) {
	s.audit.Log(ctx, models.AuditEvent{
		Kind:              kind,
		UserID:            userID,
		Email:             email,
		IPAddress:         device.IP,
		UserAgent:         device.UserAgent,
		DeviceFingerprint: device.Fingerprint,
		Success:           success,
		FailureReason:     reason,
		Metadata:          meta,
		Timestamp:         s.now().UTC(),
	})
}

func (s *AuthService) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.HashPassword("loanhub-timing-equaliser")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func pendingApproval(status models.OnboardingStatus) bool {
	return status == models.OnboardingPending || status == models.OnboardingIncomplete
}

func channel(email string) string {
	if strings.TrimSpace(email) != "" {
		return "email"
	}
	return "phone"
}
