package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/middleware"
	"newsletter-reader/internal/service"
	"newsletter-reader/pkg/ratelimit"

	"github.com/gorilla/mux"
)

const refreshWindow = time.Minute

type NewsletterHandler struct {
	registry         *service.Registry
	authMiddleware   *middleware.AuthMiddleware
	limiter          *ratelimit.Limiter
	refreshPerMinute int
}

func NewNewsletterHandler(registry *service.Registry, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.Limiter, refreshPerMinute int) *NewsletterHandler {
	return &NewsletterHandler{
		registry:         registry,
		authMiddleware:   authMiddleware,
		limiter:          limiter,
		refreshPerMinute: refreshPerMinute,
	}
}

func (h *NewsletterHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View.Snapshot())
}

func (h *NewsletterHandler) Add(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	url, err := domain.ValidateURL(req.URL)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := sess.View.AddSubscription(r.Context(), url)
	if err != nil {
		logging.Warn("failed to add newsletter", "user_id", sess.UserID, "url", url, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (h *NewsletterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		writeError(w, domain.ErrInvalidSubscriptionID)
		return
	}

	if err := sess.View.RemoveSubscription(r.Context(), id); err != nil {
		logging.Warn("failed to remove newsletter", "user_id", sess.UserID, "id", id, "error", err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *NewsletterHandler) Select(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	if err := sess.View.Select(req.URL); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.View.Snapshot())
}

// Refresh re-fetches a single newsletter, throttled per user and URL.
func (h *NewsletterHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	url := req.URL
	if url == "" {
		url = sess.View.Selected()
	}
	if url == "" {
		writeError(w, domain.ErrURLRequired)
		return
	}

	key := fmt.Sprintf("refresh:%d:%s", sess.UserID, url)
	if h.limiter != nil && h.refreshPerMinute > 0 && !h.limiter.Allow(key, h.refreshPerMinute, refreshWindow) {
		writeError(w, domain.ErrTooManyAttempts)
		return
	}

	if err := sess.View.RefreshFeed(r.Context(), url); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.View.Snapshot())
}
