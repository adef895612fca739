package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"newsletter-reader/internal/domain"

	"github.com/gorilla/sessions"
)

const sessionName = "session"

type contextKey int

const userIDKey contextKey = iota

// AuthMiddleware is the identity provider: it keeps the signed-in user id
// in a cookie session.
type AuthMiddleware struct {
	store sessions.Store
}

func NewAuthMiddleware(store sessions.Store) *AuthMiddleware {
	return &AuthMiddleware{
		store: store,
	}
}

// RequireAuth rejects requests without a signed-in user and puts the user
// id on the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.sessionUserID(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": domain.ErrNotSignedIn.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID returns the signed-in user id for r.
func (m *AuthMiddleware) GetUserID(r *http.Request) (int, bool) {
	if userID, ok := r.Context().Value(userIDKey).(int); ok {
		return userID, true
	}
	return m.sessionUserID(r)
}

func (m *AuthMiddleware) sessionUserID(r *http.Request) (int, bool) {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return 0, false
	}

	auth, _ := session.Values["authenticated"].(bool)
	userID, ok := session.Values["user_id"].(int)
	if !auth || !ok || userID <= 0 {
		return 0, false
	}
	return userID, true
}

func (m *AuthMiddleware) SetUserSession(w http.ResponseWriter, r *http.Request, userID int) error {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return err
	}

	session.Values["authenticated"] = true
	session.Values["user_id"] = userID

	return session.Save(r, w)
}

func (m *AuthMiddleware) ClearSession(w http.ResponseWriter, r *http.Request) error {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return err
	}

	session.Values["authenticated"] = false
	delete(session.Values, "user_id")
	session.Options.MaxAge = -1

	return session.Save(r, w)
}
