package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AuditKind string

const (
	AuditRegister             AuditKind = "register"
	AuditLoginSuccess         AuditKind = "login_success"
	AuditLoginFailure         AuditKind = "login_failure"
	AuditAccountLocked        AuditKind = "account_locked"
	AuditSuspiciousLogin      AuditKind = "suspicious_login"
	AuditLogout               AuditKind = "logout"
	AuditLogoutAll            AuditKind = "logout_all"
	AuditTokenRefresh         AuditKind = "token_refresh"
	AuditPasswordChange       AuditKind = "password_change"
	AuditPasswordResetRequest AuditKind = "password_reset_request"
	AuditPasswordReset        AuditKind = "password_reset"
	AuditOTPSent              AuditKind = "otp_sent"
	AuditOTPVerify            AuditKind = "otp_verify"
	AuditAccountStatus        AuditKind = "account_status_change"
	AuditAdminProvisioned     AuditKind = "admin_provisioned"
)

// AuditRetention is how long audit documents live before the TTL index
// removes them.
const AuditRetention = 90 * 24 * time.Hour

// AuditEvent is append-only.
type AuditEvent struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind              AuditKind          `bson:"kind" json:"kind"`
	UserID            string             `bson:"user_id,omitempty" json:"userId,omitempty"`
	Email             string             `bson:"email,omitempty" json:"email,omitempty"`
	IPAddress         string             `bson:"ip" json:"ip"`
	UserAgent         string             `bson:"user_agent" json:"userAgent"`
	DeviceFingerprint string             `bson:"device_fingerprint" json:"deviceFingerprint"`
	Success           bool               `bson:"success" json:"success"`
	FailureReason     string             `bson:"failure_reason,omitempty" json:"failureReason,omitempty"`
	Metadata          map[string]any     `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Timestamp         time.Time          `bson:"timestamp" json:"timestamp"`
}
