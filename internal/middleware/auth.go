package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
	"github.com/AnshRaj112/loanhub-backend/internal/services"
	"github.com/AnshRaj112/loanhub-backend/internal/store"
)

type identityKey struct{}

// Identity is what the gate attaches to an authenticated request.
type Identity struct {
	User      *models.User
	Role      models.Role
	Token     string
	ExpiresAt time.Time
}

func (i *Identity) UserID() string { return i.User.IDHex() }

// IdentityFrom returns the identity attached by Required or Optional.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// UserLoader is the slice of the credential store the gate needs.
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Gate authenticates bearer access tokens: revocation check, signature and
// expiry, identity lookup, role consistency.
type Gate struct {
	tokens      *auth.TokenIssuer
	revocations services.RevocationList
	users       UserLoader
	failOpen    bool
	logger      *zap.Logger
}

func NewGate(tokens *auth.TokenIssuer, revocations services.RevocationList, users UserLoader, failOpen bool, logger *zap.Logger) *Gate {
	return &Gate{
		tokens:      tokens,
		revocations: revocations,
		users:       users,
		failOpen:    failOpen,
		logger:      logger,
	}
}

// Required rejects any request that does not carry a valid access token.
func (g *Gate) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Optional attaches an identity when one can be established and otherwise
// lets the request through anonymously.
func (g *Gate) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := g.authenticate(r); err == nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) authenticate(r *http.Request) (*Identity, *auth.Error) {
	token := BearerToken(r)
	if token == "" {
		return nil, auth.ErrNoToken
	}
	ctx := r.Context()

	revoked, err := g.revocations.IsRevoked(ctx, token)
	if err != nil {
		g.logger.Error("Revocation check failed", zap.Bool("fail_open", g.failOpen), zap.Error(err))
		if !g.failOpen {
			return nil, auth.Internal(err)
		}
	}
	if revoked {
		return nil, auth.ErrTokenRevoked
	}

	res := g.tokens.VerifyAccess(token)
	if !res.OK() {
		return nil, res.AsError()
	}

	user, err := g.users.FindByID(ctx, res.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("Identity lookup failed", zap.String("user_id", res.UserID), zap.Error(err))
			return nil, auth.Internal(err)
		}
		return nil, auth.ErrUserInactive
	}
	if !user.IsActive {
		return nil, auth.ErrUserInactive
	}
	if string(user.Role) != res.Role {
		return nil, auth.ErrRoleMismatch
	}

	return &Identity{User: user, Role: user.Role, Token: token, ExpiresAt: res.ExpiresAt}, nil
}

// Authorize allows only the listed roles. It must run after Required.
func Authorize(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, auth.ErrNoToken)
				return
			}
			if !allowed[id.Role] {
				writeError(w, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
