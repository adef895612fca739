package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"newsletter-reader/internal/database"
	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/middleware"
	"newsletter-reader/internal/newsletter"
	"newsletter-reader/internal/repository"
	"newsletter-reader/internal/service"
	"newsletter-reader/pkg/ratelimit"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
)

type testEnv struct {
	router   *mux.Router
	registry *service.Registry
	cookies  []*http.Cookie
	userID   int
}

// upstream serves two posts per newsletter, titles derived from the host
// and a fixed recommendation list.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/posts/":
			u := r.FormValue("newsletter_url")
			if strings.Contains(u, "broken") {
				w.Write([]byte(`{"error": "feed unavailable"}`))
				return
			}
			fmt.Fprintf(w, `[{"id": "%[1]s-1", "title": "one", "url": "%[2]sp/1"},
				{"id": "%[1]s-2", "title": "two", "url": "%[2]sp/2"}]`, domain.Label(u), u)
		case "/api/get_title/":
			fmt.Fprintf(w, `{"title": "Title of %s"}`, domain.Label(r.FormValue("url")))
		case "/api/recommendations/":
			w.Write([]byte(`[{"url": "https://rec1.example/", "title": "Rec 1"},
				{"url": "https://broken.example/", "name": "Broken"},
				"https://rec2.example/"]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m, err := database.NewManager(database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "handler.db"),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	client := newsletter.NewAPIClient(newUpstream(t).URL, newsletter.Options{Timeout: 2 * time.Second})
	registry := service.NewRegistry(service.Dependencies{
		Subscriptions:   repository.NewSubscriptionRepository(m.DB, m.Dialect),
		ReadPosts:       repository.NewReadPostRepository(m.DB, m.Dialect),
		Posts:           client,
		Titles:          client,
		Recommendations: client,
	})
	t.Cleanup(registry.Close)

	limiter := ratelimit.NewLimiter()
	t.Cleanup(limiter.Close)

	auth := middleware.NewAuthMiddleware(sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef")))
	authHandler := NewAuthHandler(service.NewAuthService(repository.NewUserRepository(m.DB, m.Dialect), limiter), auth, registry)
	newsletters := NewNewsletterHandler(registry, auth, limiter, 2)
	reader := NewReaderHandler(registry, auth)
	recs := NewRecommendationHandler(registry, auth)

	router := mux.NewRouter()
	router.HandleFunc("/login", authHandler.Login).Methods("POST")
	router.HandleFunc("/logout", authHandler.Logout).Methods("POST")
	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.RequireAuth)
	api.HandleFunc("/me", authHandler.Me).Methods("GET")
	api.HandleFunc("/newsletters", newsletters.List).Methods("GET")
	api.HandleFunc("/newsletters", newsletters.Add).Methods("POST")
	api.HandleFunc("/newsletters/select", newsletters.Select).Methods("POST")
	api.HandleFunc("/newsletters/refresh", newsletters.Refresh).Methods("POST")
	api.HandleFunc("/newsletters/{id}", newsletters.Delete).Methods("DELETE")
	api.HandleFunc("/reader", reader.Current).Methods("GET")
	api.HandleFunc("/reader/next", reader.Next).Methods("POST")
	api.HandleFunc("/reader/prev", reader.Prev).Methods("POST")
	api.HandleFunc("/reader/done", reader.Done).Methods("POST")
	api.HandleFunc("/posts/{id}/read", reader.MarkRead).Methods("POST")
	api.HandleFunc("/recommendations", recs.List).Methods("GET")
	api.HandleFunc("/recommendations/source", recs.Source).Methods("POST")
	api.HandleFunc("/recommendations/toggle", recs.Toggle).Methods("POST")
	api.HandleFunc("/recommendations/toggle-all", recs.ToggleAll).Methods("POST")
	api.HandleFunc("/recommendations/add", recs.Add).Methods("POST")

	return &testEnv{router: router, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, email string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/login", fmt.Sprintf(`{"email": %q}`, email))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}
	e.cookies = rec.Result().Cookies()
	var user domain.User
	decode(t, rec, &user)
	e.userID = user.ID
}

// settle waits for the session's background fetches.
func (e *testEnv) settle(t *testing.T) {
	t.Helper()
	sess := e.registry.Session(context.Background(), e.userID)
	if !sess.View.Wait(3 * time.Second) {
		t.Fatal("background work did not settle")
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestUnauthenticatedAPI(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/newsletters", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorResponse
	decode(t, rec, &body)
	if body.Error != "Not signed in" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestLoginRejectsInvalidEmail(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/login", `{"email": "nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNewsletterLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "reader@example.com")

	if rec := env.do(t, http.MethodPost, "/api/newsletters", `{"url": "ftp://a.example/"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid url status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/newsletters", `{"url": "  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty url status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/newsletters", `{"url": "https://a.example/"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body)
	}
	var sub domain.Subscription
	decode(t, rec, &sub)

	if rec := env.do(t, http.MethodPost, "/api/newsletters", `{"url": "https://a.example/"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/newsletters", `{"url": "https://b.example/"}`); rec.Code != http.StatusCreated {
		t.Fatalf("second add status = %d", rec.Code)
	}
	env.settle(t)

	var state service.ViewState
	decode(t, env.do(t, http.MethodGet, "/api/newsletters", ""), &state)
	if len(state.Rows) != 2 || state.Selected != "https://a.example/" {
		t.Fatalf("state = %+v", state)
	}
	if state.Rows[0].Unread != 2 || state.Rows[0].Title != "Title of a.example" {
		t.Fatalf("row = %+v", state.Rows[0])
	}

	if rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/newsletters/%d", sub.ID), ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/newsletters/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
	decode(t, env.do(t, http.MethodGet, "/api/newsletters", ""), &state)
	if len(state.Rows) != 1 || state.Selected != "https://b.example/" {
		t.Fatalf("after delete state = %+v", state)
	}
}

func TestReaderNavigationAndDone(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "reader@example.com")
	env.do(t, http.MethodPost, "/api/newsletters", `{"url": "https://a.example/"}`)
	env.settle(t)

	var resp readerResponse
	decode(t, env.do(t, http.MethodGet, "/api/reader", ""), &resp)
	if resp.Item == nil || resp.Item.Position != 1 || resp.Item.Total != 2 {
		t.Fatalf("current = %+v", resp.Item)
	}

	decode(t, env.do(t, http.MethodPost, "/api/reader/next", ""), &resp)
	if resp.Item.Position != 2 {
		t.Fatalf("after next position = %d", resp.Item.Position)
	}
	decode(t, env.do(t, http.MethodPost, "/api/reader/next", ""), &resp)
	if resp.Item.Position != 2 {
		t.Fatalf("next past the end moved to %d", resp.Item.Position)
	}

	decode(t, env.do(t, http.MethodPost, "/api/reader/done", ""), &resp)
	if resp.Read != "pending" && resp.Read != "committed" {
		t.Fatalf("read state = %q", resp.Read)
	}
	if resp.Item == nil || resp.Item.Total != 1 || resp.Item.Post.ID != "a.example-1" {
		t.Fatalf("after done item = %+v", resp.Item)
	}
	env.settle(t)

	decode(t, env.do(t, http.MethodPost, "/api/posts/a.example-1/read", ""), &resp)
	if resp.Item != nil {
		t.Fatalf("all read but item = %+v", resp.Item)
	}
}

func TestRefreshIsThrottled(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "reader@example.com")
	env.do(t, http.MethodPost, "/api/newsletters", `{"url": "https://a.example/"}`)
	env.settle(t)

	for i := 0; i < 2; i++ {
		if rec := env.do(t, http.MethodPost, "/api/newsletters/refresh", `{"url": "https://a.example/"}`); rec.Code != http.StatusOK {
			t.Fatalf("refresh %d status = %d: %s", i, rec.Code, rec.Body)
		}
	}
	if rec := env.do(t, http.MethodPost, "/api/newsletters/refresh", `{"url": "https://a.example/"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third refresh status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/newsletters/refresh", `{"url": "https://unknown.example/"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown refresh status = %d", rec.Code)
	}
}

func TestRecommendationBulkAdd(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "reader@example.com")
	env.do(t, http.MethodPost, "/api/newsletters", `{"url": "https://rec2.example/"}`)

	var picker service.PickerState
	decode(t, env.do(t, http.MethodPost, "/api/recommendations/source", `{"url": "https://a.example/"}`), &picker)
	if len(picker.Candidates) != 2 {
		t.Fatalf("candidates = %+v", picker.Candidates)
	}
	if picker.Candidates[1].Title != "Broken" {
		t.Fatalf("name fallback = %q", picker.Candidates[1].Title)
	}

	decode(t, env.do(t, http.MethodPost, "/api/recommendations/toggle-all", ""), &picker)
	if len(picker.Selected) != 2 {
		t.Fatalf("selected = %v", picker.Selected)
	}

	// Occupy broken.example so its add fails with a conflict.
	env.do(t, http.MethodPost, "/api/newsletters", `{"url": "https://broken.example/"}`)

	rec := env.do(t, http.MethodPost, "/api/recommendations/add", "")
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("bulk add status = %d: %s", rec.Code, rec.Body)
	}
	var resp addSelectedResponse
	decode(t, rec, &resp)
	if resp.Error != "https://broken.example/: This URL is already in your list" {
		t.Fatalf("error = %q", resp.Error)
	}
	if len(resp.Picker.Candidates) != 1 || len(resp.Picker.Selected) != 0 {
		t.Fatalf("picker = %+v", resp.Picker)
	}

	var state service.ViewState
	decode(t, env.do(t, http.MethodGet, "/api/newsletters", ""), &state)
	if len(state.Rows) != 3 {
		t.Fatalf("rows = %+v", state.Rows)
	}
}

func TestLogoutDropsSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "reader@example.com")
	if rec := env.do(t, http.MethodPost, "/logout", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", rec.Code)
	}
	env.cookies = nil
	if rec := env.do(t, http.MethodGet, "/api/me", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrURLRequired, http.StatusBadRequest},
		{domain.ErrNotSignedIn, http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", domain.ErrAlreadySubscribed), http.StatusConflict},
		{domain.ErrSubscriptionNotFound, http.StatusNotFound},
		{&newsletter.StatusError{Code: 503}, http.StatusBadGateway},
		{&service.BulkAddError{Failures: []service.AddFailure{{URL: "u", Err: domain.ErrInvalidURL}}}, http.StatusMultiStatus},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
