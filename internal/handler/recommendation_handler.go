package handler

import (
	"net/http"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/middleware"
	"newsletter-reader/internal/service"
)

type RecommendationHandler struct {
	registry       *service.Registry
	authMiddleware *middleware.AuthMiddleware
}

func NewRecommendationHandler(registry *service.Registry, authMiddleware *middleware.AuthMiddleware) *RecommendationHandler {
	return &RecommendationHandler{
		registry:       registry,
		authMiddleware: authMiddleware,
	}
}

func (h *RecommendationHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Picker.Snapshot())
}

// Source loads the recommendations of one newsletter, replacing any
// previous list and selection.
func (h *RecommendationHandler) Source(w http.ResponseWriter, r *http.Request) {
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

	if err := sess.Picker.LoadFrom(r.Context(), url); err != nil {
		logging.Warn("failed to load recommendations", "source", url, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Picker.Snapshot())
}

func (h *RecommendationHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	sess.Picker.Toggle(req.URL)
	writeJSON(w, http.StatusOK, sess.Picker.Snapshot())
}

func (h *RecommendationHandler) ToggleAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}
	sess.Picker.ToggleAll()
	writeJSON(w, http.StatusOK, sess.Picker.Snapshot())
}

type addSelectedResponse struct {
	Error  string              `json:"error,omitempty"`
	Picker service.PickerState `json:"picker"`
}

// Add subscribes to every selected recommendation. Partial failures answer
// 207 with the joined failure message; the successful adds stay committed.
func (h *RecommendationHandler) Add(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}

	if err := sess.Picker.AddSelected(r.Context()); err != nil {
		logging.Warn("bulk add incomplete", "user_id", sess.UserID, "error", err)
		writeJSON(w, statusFor(err), addSelectedResponse{Error: err.Error(), Picker: sess.Picker.Snapshot()})
		return
	}
	writeJSON(w, http.StatusOK, addSelectedResponse{Picker: sess.Picker.Snapshot()})
}
