package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/middleware"
	"newsletter-reader/internal/newsletter"
	"newsletter-reader/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var statusErr *newsletter.StatusError
	var apiErr *newsletter.APIError

	switch {
	case service.IsBulkAddError(err):
		return http.StatusMultiStatus
	case errors.Is(err, domain.ErrURLRequired),
		errors.Is(err, domain.ErrInvalidURL),
		errors.Is(err, domain.ErrInvalidSubscriptionID),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrInvalidPostID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadySubscribed),
		errors.Is(err, service.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.As(err, &statusErr),
		errors.As(err, &apiErr),
		errors.Is(err, newsletter.ErrRecommendationsUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type urlRequest struct {
	URL   string `json:"url"`
	Email string `json:"email"`
}

// decodeRequest reads a JSON body, or form fields for form posts.
func decodeRequest(r *http.Request) (urlRequest, error) {
	var req urlRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
			return req, err
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.URL = r.FormValue("url")
	req.Email = r.FormValue("email")
	return req, nil
}

// sessionFor resolves the reader session of the signed-in user, writing
// the 401 response itself when there is none.
func sessionFor(w http.ResponseWriter, r *http.Request, auth *middleware.AuthMiddleware, registry *service.Registry) (*service.Session, bool) {
	userID, ok := auth.GetUserID(r)
	if !ok {
		writeError(w, domain.ErrNotSignedIn)
		return nil, false
	}

	return registry.Session(r.Context(), userID), true
}
