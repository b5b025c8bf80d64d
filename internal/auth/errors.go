package auth

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind is the machine-readable error code sent to clients.
type Kind string

const (
	KindValidation            Kind = "VALIDATION_ERROR"
	KindInvalidCredentials    Kind = "INVALID_CREDENTIALS"
	KindAccountLocked         Kind = "ACCOUNT_LOCKED"
	KindAccountInactive       Kind = "ACCOUNT_INACTIVE"
	KindNoToken               Kind = "NO_TOKEN"
	KindTokenExpired          Kind = "TOKEN_EXPIRED"
	KindInvalidToken          Kind = "INVALID_TOKEN"
	KindTokenRevoked          Kind = "TOKEN_REVOKED"
	KindForbidden             Kind = "FORBIDDEN"
	KindNotFound              Kind = "NOT_FOUND"
	KindDuplicateEmail        Kind = "DUPLICATE_EMAIL"
	KindDuplicatePhone        Kind = "DUPLICATE_PHONE"
	KindWeakPassword          Kind = "WEAK_PASSWORD"
	KindIncorrectPassword     Kind = "INCORRECT_PASSWORD"
	KindPasswordReused        Kind = "PASSWORD_REUSED"
	KindInvalidOrExpiredToken Kind = "INVALID_OR_EXPIRED_TOKEN"
	KindServerError           Kind = "SERVER_ERROR"
)

// Error is the only error type that crosses the HTTP boundary. Two errors
// are equal under errors.Is when their kinds match.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// RetryAfterMinutes rounds RetryAfter up to whole minutes.
func (e *Error) RetryAfterMinutes() int {
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Status: http.StatusUnauthorized, Message: "Invalid email or password"}
	ErrNoToken            = &Error{Kind: KindNoToken, Status: http.StatusUnauthorized, Message: "Access denied. No token provided."}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired, Status: http.StatusUnauthorized, Message: "Token has expired"}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken, Status: http.StatusUnauthorized, Message: "Invalid token"}
	ErrTokenRevoked       = &Error{Kind: KindTokenRevoked, Status: http.StatusUnauthorized, Message: "Token has been revoked."}
	ErrUserInactive       = &Error{Kind: KindInvalidToken, Status: http.StatusUnauthorized, Message: "User not found or inactive"}
	ErrRoleMismatch       = &Error{Kind: KindInvalidToken, Status: http.StatusUnauthorized, Message: "Token role no longer matches account"}
	ErrForbidden          = &Error{Kind: KindForbidden, Status: http.StatusForbidden, Message: "You do not have permission to perform this action"}
	ErrNotFound           = &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "Resource not found"}
	ErrDuplicateEmail     = &Error{Kind: KindDuplicateEmail, Status: http.StatusConflict, Message: "User with this email already exists"}
	ErrDuplicatePhone     = &Error{Kind: KindDuplicatePhone, Status: http.StatusConflict, Message: "User with this phone number already exists"}
	ErrIncorrectPassword  = &Error{Kind: KindIncorrectPassword, Status: http.StatusBadRequest, Message: "Current password is incorrect"}
	ErrPasswordReused     = &Error{Kind: KindPasswordReused, Status: http.StatusBadRequest, Message: "Password was used recently. Please choose a different password"}
	ErrInvalidOrExpired   = &Error{Kind: KindInvalidOrExpiredToken, Status: http.StatusBadRequest, Message: "Invalid or expired token"}
	ErrInvalidOTP         = &Error{Kind: KindInvalidOrExpiredToken, Status: http.StatusBadRequest, Message: "Invalid or expired OTP"}
	ErrServer             = &Error{Kind: KindServerError, Status: http.StatusInternalServerError, Message: "Internal server error"}
)

// AccountLocked carries the remaining lock time.
func AccountLocked(retryAfter time.Duration) *Error {
	e := &Error{Kind: KindAccountLocked, Status: http.StatusLocked, RetryAfter: retryAfter}
	e.Message = fmt.Sprintf("Account is temporarily locked due to too many failed login attempts. Try again in %d minutes", e.RetryAfterMinutes())
	return e
}

// AccountInactive words the message by onboarding state; the status code is
// the same either way.
func AccountInactive(pendingApproval bool) *Error {
	msg := "Your account has been deactivated. Please contact support"
	if pendingApproval {
		msg = "Your account is pending approval"
	}
	return &Error{Kind: KindAccountInactive, Status: http.StatusUnauthorized, Message: msg}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message}
}

func WeakPassword(message string) *Error {
	return &Error{Kind: KindWeakPassword, Status: http.StatusBadRequest, Message: message}
}

// Internal wraps an unexpected failure. The cause is kept for logs only.
func Internal(err error) *Error {
	return &Error{Kind: KindServerError, Status: http.StatusInternalServerError, Message: ErrServer.Message, Err: err}
}

// AsError converts any error into an *Error, mapping unknown errors to
// SERVER_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
