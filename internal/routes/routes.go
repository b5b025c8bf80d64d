package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/handlers"
	"github.com/AnshRaj112/loanhub-backend/internal/middleware"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
)

// Deps is everything the route table needs. Middlewares run after request
// id, logging, panic recovery and CORS, in order.
type Deps struct {
	Auth           *handlers.AuthHandler
	Admin          *handlers.AdminHandler
	Gate           *middleware.Gate
	Logger         *zap.Logger
	AllowedOrigins []string
	Middlewares    []func(http.Handler) http.Handler
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins))
	for _, mw := range d.Middlewares {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	SetupRoutes(r, d)
	return r
}

func SetupRoutes(r chi.Router, d Deps) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", d.Auth.Register)
		r.Post("/login", d.Auth.Login)
		r.Post("/refresh-token", d.Auth.RefreshToken)
		r.Post("/forgot-password", d.Auth.ForgotPassword)
		r.Post("/reset-password", d.Auth.ResetPassword)
		r.Post("/send-otp", d.Auth.SendOTP)
		r.Post("/verify-otp", d.Auth.VerifyOTP)

		r.Group(func(r chi.Router) {
			r.Use(d.Gate.Required)
			r.Get("/me", d.Auth.Me)
			r.Get("/sessions", d.Auth.Sessions)
			r.Post("/logout", d.Auth.Logout)
			r.Post("/logout-all", d.Auth.LogoutAll)
			r.Post("/change-password", d.Auth.ChangePassword)
		})
	})

	// Admin accounts are provisioned with cmd/createadmin, never over HTTP.
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(d.Gate.Required)
		r.Use(middleware.Authorize(models.RoleAdmin))
		r.Get("/users/{id}", d.Admin.GetUser)
		r.Patch("/users/{id}/status", d.Admin.UpdateStatus)
	})
}
