package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/middleware"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
	"github.com/AnshRaj112/loanhub-backend/internal/services"
	"github.com/AnshRaj112/loanhub-backend/pkg/clientip"
)

const (
	refreshCookieName = "refreshToken"
	refreshCookiePath = "/api/auth"

	forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent"
	sendOTPMessage        = "If an account exists, an OTP has been sent"
)

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type OTPRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	OTP   string `json:"otp,omitempty"`
}

// AuthResponse is returned by every route that starts a session.
type AuthResponse struct {
	Success              bool         `json:"success"`
	Message              string       `json:"message"`
	User                 *models.User `json:"user,omitempty"`
	AccessToken          string       `json:"accessToken,omitempty"`
	AccessTokenExpiresAt *time.Time   `json:"accessTokenExpiresAt,omitempty"`
	RefreshToken         string       `json:"refreshToken,omitempty"`
	SuspiciousLogin      bool         `json:"suspiciousLogin,omitempty"`
}

type UserResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
}

type SessionsResponse struct {
	Success  bool             `json:"success"`
	Sessions []models.Session `json:"sessions"`
}

// CookieOptions controls the refresh-token cookie.
type CookieOptions struct {
	Secure bool
	MaxAge time.Duration
}

// AuthHandler serves /api/auth.
type AuthHandler struct {
	auth      *services.AuthService
	resolveIP clientip.Resolver
	cookie    CookieOptions
	respond   responder
}

func NewAuthHandler(svc *services.AuthService, resolveIP clientip.Resolver, cookie CookieOptions, logger *zap.Logger, exposeDetail bool) *AuthHandler {
	if resolveIP == nil {
		resolveIP = clientip.RealClientIP
	}
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = auth.DefaultRefreshTTL
	}
	return &AuthHandler{
		auth:      svc,
		resolveIP: resolveIP,
		cookie:    cookie,
		respond:   responder{logger: logger, exposeDetail: exposeDetail},
	}
}

func (h *AuthHandler) device(r *http.Request) services.DeviceContext {
	return services.DeviceFromRequest(r, h.resolveIP(r))
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(w, r, &req); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	result, err := h.auth.Register(r.Context(), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}, h.device(r))
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.writeSession(w, http.StatusCreated, "Registration successful", result)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(w, r, &req); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	result, err := h.auth.Login(r.Context(), req.Email, req.Password, h.device(r))
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, "Login successful", result)
}

// RefreshToken handles POST /api/auth/refresh-token. The cookie wins over
// the body.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(refreshCookieName); err == nil {
		token = c.Value
	}
	if token == "" && r.ContentLength != 0 {
		var req RefreshRequest
		if err := decode(w, r, &req); err != nil {
			h.respond.fail(w, r, err)
			return
		}
		token = req.RefreshToken
	}

	access, exp, err := h.auth.Refresh(r.Context(), token, h.device(r))
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.respond.json(w, http.StatusOK, AuthResponse{
		Success:              true,
		Message:              "Token refreshed",
		AccessToken:          access,
		AccessTokenExpiresAt: &exp,
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, h.auth.Logout, "Logged out successfully")
}

// LogoutAll handles POST /api/auth/logout-all.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, h.auth.LogoutAll, "Logged out from all devices")
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request, fn func(context.Context, services.LogoutRequest) error, message string) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respond.fail(w, r, auth.ErrNoToken)
		return
	}
	err := fn(r.Context(), services.LogoutRequest{
		UserID:          id.UserID(),
		AccessToken:     id.Token,
		AccessExpiresAt: id.ExpiresAt,
		Device:          h.device(r),
	})
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	h.respond.json(w, http.StatusOK, APIResponse{Success: true, Message: message})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respond.fail(w, r, auth.ErrNoToken)
		return
	}
	user, err := h.auth.Me(r.Context(), id.UserID())
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.respond.json(w, http.StatusOK, UserResponse{Success: true, User: user})
}

// Sessions handles GET /api/auth/sessions.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respond.fail(w, r, auth.ErrNoToken)
		return
	}
	sessions, err := h.auth.Sessions(r.Context(), id.UserID())
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.respond.json(w, http.StatusOK, SessionsResponse{Success: true, Sessions: sessions})
}

// ChangePassword handles POST /api/auth/change-password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respond.fail(w, r, auth.ErrNoToken)
		return
	}
	var req ChangePasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		h.respond.fail(w, r, auth.Validation("Current and new password are required"))
		return
	}
	if err := h.auth.ChangePassword(r.Context(), id.UserID(), req.CurrentPassword, req.NewPassword, h.device(r)); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.respond.json(w, http.StatusOK, APIResponse{Success: true, Message: "Password changed successfully"})
}

// ForgotPassword handles POST /api/auth/forgot-password. The response is the
// same whether or not the account exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.auth.ForgotPassword(r.Context(), req.Email, h.device(r))
	h.respond.json(w, http.StatusOK, APIResponse{Success: true, Message: forgotPasswordMessage})
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.Password, h.device(r)); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	h.respond.json(w, http.StatusOK, APIResponse{Success: true, Message: "Password has been reset successfully"})
}

// SendOTP handles POST /api/auth/send-otp.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := decode(w, r, &req); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	if err := h.auth.SendOTP(r.Context(), req.Email, req.Phone, h.device(r)); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.respond.json(w, http.StatusOK, APIResponse{Success: true, Message: sendOTPMessage})
}

// VerifyOTP handles POST /api/auth/verify-otp and logs the identity in.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := decode(w, r, &req); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	if req.OTP == "" {
		h.respond.fail(w, r, auth.Validation("OTP is required"))
		return
	}
	result, err := h.auth.VerifyOTP(r.Context(), req.Email, req.Phone, req.OTP, h.device(r))
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, "OTP verified successfully", result)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, message string, result *services.LoginResult) {
	h.setRefreshCookie(w, result.RefreshToken)
	exp := result.AccessExpiresAt
	h.respond.json(w, status, AuthResponse{
		Success:              true,
		Message:              message,
		User:                 result.User,
		AccessToken:          result.AccessToken,
		AccessTokenExpiresAt: &exp,
		RefreshToken:         result.RefreshToken,
		SuspiciousLogin:      result.Suspicious,
	})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
