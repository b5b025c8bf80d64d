package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/middleware"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
	"github.com/AnshRaj112/loanhub-backend/internal/services"
)

type UpdateStatusRequest struct {
	IsActive         *bool  `json:"isActive"`
	OnboardingStatus string `json:"onboardingStatus,omitempty"`
}

// AdminHandler serves /api/admin. Every route sits behind Required and
// Authorize(admin).
type AdminHandler struct {
	users   *services.UserService
	respond responder
}

func NewAdminHandler(users *services.UserService, logger *zap.Logger, exposeDetail bool) *AdminHandler {
	return &AdminHandler{users: users, respond: responder{logger: logger, exposeDetail: exposeDetail}}
}

// GetUser handles GET /api/admin/users/{id}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.respond.json(w, http.StatusOK, UserResponse{Success: true, User: user})
}

// UpdateStatus handles PATCH /api/admin/users/{id}/status.
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respond.fail(w, r, auth.ErrNoToken)
		return
	}
	var req UpdateStatusRequest
	if err := decode(w, r, &req); err != nil {
		h.respond.fail(w, r, err)
		return
	}
	if req.IsActive == nil {
		h.respond.fail(w, r, auth.Validation("isActive is required"))
		return
	}

	user, err := h.users.SetStatus(r.Context(), actor.UserID(), chi.URLParam(r, "id"), *req.IsActive, models.OnboardingStatus(req.OnboardingStatus))
	if err != nil {
		h.respond.fail(w, r, err)
		return
	}
	h.respond.json(w, http.StatusOK, UserResponse{Success: true, User: user})
}
