package handler

import (
	"net/http"

	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/middleware"
	"newsletter-reader/internal/service"
)

type AuthHandler struct {
	authService    *service.AuthService
	authMiddleware *middleware.AuthMiddleware
	registry       *service.Registry
}

func NewAuthHandler(authService *service.AuthService, authMiddleware *middleware.AuthMiddleware, registry *service.Registry) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		authMiddleware: authMiddleware,
		registry:       registry,
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	user, err := h.authService.SignIn(r.Context(), req.Email)
	if err != nil {
		logging.Warn("sign-in failed", "error", err)
		writeError(w, err)
		return
	}

	if err := h.authMiddleware.SetUserSession(w, r, user.ID); err != nil {
		logging.Error("failed to set session", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Logout clears the session and drops the user's reader state.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if userID, ok := h.authMiddleware.GetUserID(r); ok {
		h.registry.Drop(userID)
	}
	if err := h.authMiddleware.ClearSession(w, r); err != nil {
		logging.Warn("error clearing session", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.authMiddleware.GetUserID(r)
	user, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
