package store

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
)

// MemoryStore keeps identities in process. Each method holds the lock for
// the whole read-modify-write, which gives the same atomicity as a single
// Mongo update.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[primitive.ObjectID]*models.User
	byEmail map[string]primitive.ObjectID
	byPhone map[string]primitive.ObjectID
}

var _ CredentialStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[primitive.ObjectID]*models.User),
		byEmail: make(map[string]primitive.ObjectID),
		byPhone: make(map[string]primitive.ObjectID),
	}
}

func (s *MemoryStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return ErrDuplicateEmail
	}
	if _, ok := s.byPhone[user.Phone]; ok && user.Phone != "" {
		return ErrDuplicatePhone
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	s.users[user.ID] = cloneUser(user)
	s.byEmail[user.Email] = user.ID
	if user.Phone != "" {
		s.byPhone[user.Phone] = user.ID
	}
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return publicCopy(u), nil
}

func (s *MemoryStore) FindByIDWithSecrets(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) FindByEmailWithSecrets(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oid, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[oid]), nil
}

func (s *MemoryStore) FindByPhoneWithSecrets(_ context.Context, phone string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oid, ok := s.byPhone[phone]
	if !ok || phone == "" {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[oid]), nil
}

func (s *MemoryStore) FindByResetToken(_ context.Context, tokenHash string, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if tokenHash != "" && u.ResetTokenHash == tokenHash && u.ResetTokenExpiry != nil && u.ResetTokenExpiry.After(now) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) RecordLoginFailure(_ context.Context, id string, policy auth.LockoutPolicy, now time.Time) (auth.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(id)
	if err != nil {
		return auth.LockoutState{}, err
	}
	next := policy.OnFailure(auth.LockoutState{FailedAttempts: u.FailedLoginAttempts, LockUntil: u.LockUntil}, now)
	u.FailedLoginAttempts = next.FailedAttempts
	u.LockUntil = next.LockUntil
	u.UpdatedAt = now
	return auth.LockoutState{FailedAttempts: next.FailedAttempts, LockUntil: copyTime(next.LockUntil)}, nil
}

func (s *MemoryStore) RecordLoginSuccess(_ context.Context, id string, now time.Time) error {
	return s.mutate(id, func(u *models.User) error {
		u.FailedLoginAttempts = 0
		u.LockUntil = nil
		u.LastLoginAt = &now
		u.UpdatedAt = now
		return nil
	})
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id string, update PasswordUpdate, now time.Time) error {
	return s.mutate(id, func(u *models.User) error {
		if u.PasswordHash != update.CurrentHash {
			return ErrConflict
		}
		u.PasswordHistory = append(u.PasswordHistory, models.PasswordHistoryEntry{Hash: update.CurrentHash, ChangedAt: now})
		if n := len(u.PasswordHistory); update.HistorySize >= 0 && n > update.HistorySize {
			u.PasswordHistory = append([]models.PasswordHistoryEntry(nil), u.PasswordHistory[n-update.HistorySize:]...)
		}
		u.PasswordHash = update.NewHash
		u.PasswordChangedAt = &now
		u.UpdatedAt = now
		if update.ClearCredentials {
			u.ResetTokenHash, u.ResetTokenExpiry = "", nil
			u.RefreshTokenHash, u.RefreshTokenExpiry = "", nil
		}
		return nil
	})
}

func (s *MemoryStore) SetRefreshToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	return s.mutate(id, func(u *models.User) error {
		u.RefreshTokenHash = tokenHash
		u.RefreshTokenExpiry = &expiresAt
		return nil
	})
}

func (s *MemoryStore) ClearRefreshToken(_ context.Context, id string) error {
	return s.mutate(id, func(u *models.User) error {
		u.RefreshTokenHash, u.RefreshTokenExpiry = "", nil
		return nil
	})
}

func (s *MemoryStore) SetResetToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	return s.mutate(id, func(u *models.User) error {
		u.ResetTokenHash = tokenHash
		u.ResetTokenExpiry = &expiresAt
		return nil
	})
}

func (s *MemoryStore) SetOTP(_ context.Context, id, otpHash string, expiresAt time.Time) error {
	return s.mutate(id, func(u *models.User) error {
		u.OTPHash = otpHash
		u.OTPExpiry = &expiresAt
		u.OTPAttempts = 0
		return nil
	})
}

func (s *MemoryStore) ConsumeOTP(_ context.Context, id, otpHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(id)
	if err != nil {
		return false, err
	}
	if u.OTPHash == "" || u.OTPHash != otpHash || u.OTPExpiry == nil || !u.OTPExpiry.After(now) {
		return false, nil
	}
	u.OTPHash, u.OTPExpiry, u.OTPAttempts = "", nil, 0
	return true, nil
}

func (s *MemoryStore) RecordOTPFailure(_ context.Context, id string, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(id)
	if err != nil {
		return 0, err
	}
	if u.OTPHash == "" {
		return 0, nil
	}
	u.OTPAttempts++
	if u.OTPAttempts >= maxAttempts {
		u.OTPHash, u.OTPExpiry = "", nil
	}
	return u.OTPAttempts, nil
}

func (s *MemoryStore) MarkVerified(_ context.Context, id string, email, phone bool) error {
	return s.mutate(id, func(u *models.User) error {
		u.EmailVerified = u.EmailVerified || email
		u.PhoneVerified = u.PhoneVerified || phone
		return nil
	})
}

func (s *MemoryStore) UpsertSession(_ context.Context, id string, session models.Session, maxSessions int) error {
	return s.mutate(id, func(u *models.User) error {
		for i := range u.ActiveSessions {
			if u.ActiveSessions[i].DeviceFingerprint == session.DeviceFingerprint {
				u.ActiveSessions[i] = session
				return nil
			}
		}
		u.ActiveSessions = append(u.ActiveSessions, session)
		if n := len(u.ActiveSessions); n > maxSessions {
			u.ActiveSessions = append([]models.Session(nil), u.ActiveSessions[n-maxSessions:]...)
		}
		return nil
	})
}

func (s *MemoryStore) RemoveSession(_ context.Context, id, fingerprint string) error {
	return s.mutate(id, func(u *models.User) error {
		kept := u.ActiveSessions[:0]
		for _, sess := range u.ActiveSessions {
			if sess.DeviceFingerprint != fingerprint {
				kept = append(kept, sess)
			}
		}
		u.ActiveSessions = kept
		return nil
	})
}

func (s *MemoryStore) ClearSessions(_ context.Context, id string) error {
	return s.mutate(id, func(u *models.User) error {
		u.ActiveSessions = nil
		return nil
	})
}

func (s *MemoryStore) SetActive(_ context.Context, id string, active bool, status models.OnboardingStatus) error {
	return s.mutate(id, func(u *models.User) error {
		u.IsActive = active
		if status != "" {
			u.OnboardingStatus = status
		}
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *MemoryStore) SetRole(_ context.Context, id string, role models.Role) error {
	return s.mutate(id, func(u *models.User) error {
		u.Role = role
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *MemoryStore) mutate(id string, fn func(*models.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(id)
	if err != nil {
		return err
	}
	return fn(u)
}

// get must be called with mu held.
func (s *MemoryStore) get(id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	u, ok := s.users[oid]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.PasswordHistory = append([]models.PasswordHistoryEntry(nil), u.PasswordHistory...)
	c.ActiveSessions = append([]models.Session(nil), u.ActiveSessions...)
	c.LastLoginAt = copyTime(u.LastLoginAt)
	c.PasswordChangedAt = copyTime(u.PasswordChangedAt)
	c.LockUntil = copyTime(u.LockUntil)
	c.RefreshTokenExpiry = copyTime(u.RefreshTokenExpiry)
	c.OTPExpiry = copyTime(u.OTPExpiry)
	c.ResetTokenExpiry = copyTime(u.ResetTokenExpiry)
	return &c
}

func publicCopy(u *models.User) *models.User {
	c := cloneUser(u)
	c.PasswordHash, c.PasswordChangedAt, c.PasswordHistory = "", nil, nil
	c.FailedLoginAttempts, c.LockUntil = 0, nil
	c.RefreshTokenHash, c.RefreshTokenExpiry = "", nil
	c.OTPHash, c.OTPExpiry, c.OTPAttempts = "", nil, 0
	c.ResetTokenHash, c.ResetTokenExpiry = "", nil
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
