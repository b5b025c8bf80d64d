package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token classes carried in the "typ" claim.
const (
	ClassAccess  = "access"
	ClassRefresh = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// VerifyStatus is the outcome of verifying a token.
type VerifyStatus int

const (
	VerifyOK VerifyStatus = iota
	VerifyExpired
	VerifyMalformed
	VerifyWrongClass
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifyOK:
		return "ok"
	case VerifyExpired:
		return "expired"
	case VerifyMalformed:
		return "malformed"
	case VerifyWrongClass:
		return "wrong_class"
	default:
		return "unknown"
	}
}

// Claims is the JWT payload for both token classes. Role is empty on
// refresh tokens.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Class string `json:"typ"`
	jwt.RegisteredClaims
}

// VerifyResult carries claims only when Status is VerifyOK.
type VerifyResult struct {
	Status    VerifyStatus
	UserID    string
	Role      string
	ExpiresAt time.Time
	Err       error
}

func (r VerifyResult) OK() bool { return r.Status == VerifyOK }

// AsError maps a failed result to the client-facing error.
func (r VerifyResult) AsError() *Error {
	switch r.Status {
	case VerifyOK:
		return nil
	case VerifyExpired:
		return ErrTokenExpired
	default:
		return ErrInvalidToken
	}
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string // falls back to AccessSecret
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenIssuer mints and verifies HS256 access and refresh tokens. It is
// immutable after construction.
type TokenIssuer struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

func NewTokenIssuer(cfg TokenConfig, now func() time.Time) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" {
		return nil, errors.New("access token secret is required")
	}
	if cfg.RefreshSecret == "" {
		cfg.RefreshSecret = cfg.AccessSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        now,
	}, nil
}

func (t *TokenIssuer) AccessTTL() time.Duration  { return t.accessTTL }
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

// IssueAccessToken returns a signed access token and its expiry.
func (t *TokenIssuer) IssueAccessToken(userID, role string) (string, time.Time, error) {
	return t.sign(userID, role, ClassAccess, t.accessTTL, t.accessKey)
}

// IssueRefreshToken returns a signed refresh token and its expiry.
func (t *TokenIssuer) IssueRefreshToken(userID string) (string, time.Time, error) {
	return t.sign(userID, "", ClassRefresh, t.refreshTTL, t.refreshKey)
}

func (t *TokenIssuer) sign(userID, role, class string, ttl time.Duration, key []byte) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role:  role,
		Class: class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    t.issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", class, err)
	}
	// NumericDate truncates to seconds; report what the token actually says.
	return signed, claims.ExpiresAt.Time, nil
}

func (t *TokenIssuer) VerifyAccess(token string) VerifyResult {
	return t.verify(token, ClassAccess, t.accessKey)
}

func (t *TokenIssuer) VerifyRefresh(token string) VerifyResult {
	return t.verify(token, ClassRefresh, t.refreshKey)
}

func (t *TokenIssuer) verify(tokenStr, class string, key []byte) VerifyResult {
	if tokenStr == "" {
		return VerifyResult{Status: VerifyMalformed, Err: errors.New("empty token")}
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		options = append(options, jwt.WithIssuer(t.issuer))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return VerifyResult{Status: VerifyExpired, Err: err}
	default:
		return VerifyResult{Status: VerifyMalformed, Err: err}
	}

	if claims.Class != class {
		return VerifyResult{Status: VerifyWrongClass, Err: fmt.Errorf("expected %s token, got %q", class, claims.Class)}
	}
	if claims.Subject == "" {
		return VerifyResult{Status: VerifyMalformed, Err: errors.New("missing subject")}
	}
	if class == ClassAccess && claims.Role == "" {
		return VerifyResult{Status: VerifyMalformed, Err: errors.New("missing role")}
	}

	return VerifyResult{
		Status:    VerifyOK,
		UserID:    claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}
