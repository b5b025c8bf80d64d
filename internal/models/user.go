package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RolePartner Role = "partner"
)

// OnboardingStatus tracks partner approval. It only changes the wording of
// the inactive-account message.
type OnboardingStatus string

const (
	OnboardingIncomplete OnboardingStatus = "incomplete"
	OnboardingPending    OnboardingStatus = "pending"
	OnboardingApproved   OnboardingStatus = "approved"
	OnboardingRejected   OnboardingStatus = "rejected"
)

const (
	MaxPasswordHistory = 5
	MaxActiveSessions  = 10
)

// User is the identity record. Every credential field is tagged json:"-" and
// left out of the store's default projection.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updatedAt"`

	Email     string `bson:"email" json:"email"`
	FirstName string `bson:"first_name" json:"firstName"`
	LastName  string `bson:"last_name" json:"lastName"`
	Phone     string `bson:"phone,omitempty" json:"phone,omitempty"`

	Role             Role             `bson:"role" json:"role"`
	IsActive         bool             `bson:"is_active" json:"isActive"`
	OnboardingStatus OnboardingStatus `bson:"onboarding_status" json:"onboardingStatus"`
	EmailVerified    bool             `bson:"email_verified" json:"emailVerified"`
	PhoneVerified    bool             `bson:"phone_verified" json:"phoneVerified"`
	LastLoginAt      *time.Time       `bson:"last_login_at,omitempty" json:"lastLoginAt,omitempty"`

	PasswordHash      string                 `bson:"password_hash,omitempty" json:"-"`
	PasswordChangedAt *time.Time             `bson:"password_changed_at,omitempty" json:"-"`
	PasswordHistory   []PasswordHistoryEntry `bson:"password_history,omitempty" json:"-"`

	FailedLoginAttempts int        `bson:"failed_login_attempts" json:"-"`
	LockUntil           *time.Time `bson:"lock_until,omitempty" json:"-"`

	RefreshTokenHash   string     `bson:"refresh_token_hash,omitempty" json:"-"`
	RefreshTokenExpiry *time.Time `bson:"refresh_token_expiry,omitempty" json:"-"`

	OTPHash     string     `bson:"otp_hash,omitempty" json:"-"`
	OTPExpiry   *time.Time `bson:"otp_expiry,omitempty" json:"-"`
	OTPAttempts int        `bson:"otp_attempts,omitempty" json:"-"`

	ResetTokenHash   string     `bson:"reset_token_hash,omitempty" json:"-"`
	ResetTokenExpiry *time.Time `bson:"reset_token_expiry,omitempty" json:"-"`

	ActiveSessions []Session `bson:"active_sessions,omitempty" json:"-"`
}

type PasswordHistoryEntry struct {
	Hash      string    `bson:"hash" json:"-"`
	ChangedAt time.Time `bson:"changed_at" json:"-"`
}

// IDHex is the identity id as carried in token subjects.
func (u *User) IDHex() string {
	return u.ID.Hex()
}
