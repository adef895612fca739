package app

import (
	"context"
	"net/http"
	"time"

	"newsletter-reader/config"
	"newsletter-reader/internal/database"
	"newsletter-reader/internal/handler"
	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/middleware"
	"newsletter-reader/internal/newsletter"
	"newsletter-reader/internal/repository"
	"newsletter-reader/internal/service"
	"newsletter-reader/pkg/datetime"
	"newsletter-reader/pkg/ratelimit"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
)

// newsletterClient is the remote side of the reader: posts, page titles
// and recommendations.
type newsletterClient interface {
	service.PostsFetcher
	service.TitleFetcher
	service.RecommendationFetcher
}

type Application struct {
	Router                *mux.Router
	Config                *config.Config
	DBManager             *database.Manager
	Registry              *service.Registry
	Limiter               *ratelimit.Limiter
	AuthHandler           *handler.AuthHandler
	NewsletterHandler     *handler.NewsletterHandler
	ReaderHandler         *handler.ReaderHandler
	RecommendationHandler *handler.RecommendationHandler
	AuthMiddleware        *middleware.AuthMiddleware
}

func New(cfg *config.Config) (*Application, error) {
	dbConfig := database.Config{
		Driver:           cfg.DBDriver,
		ConnectionString: cfg.DatabaseURL,
		Host:             cfg.DBHost,
		Port:             cfg.DBPort,
		User:             cfg.DBUser,
		Password:         cfg.DBPassword,
		DBName:           cfg.DBName,
		SQLitePath:       cfg.SQLitePath,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, err
	}

	db, dialect := dbManager.GetDB(), dbManager.Dialect
	userRepository := repository.NewUserRepository(db, dialect)
	subscriptionRepository := repository.NewSubscriptionRepository(db, dialect)
	readPostRepository := repository.NewReadPostRepository(db, dialect)

	client := newClient(cfg)
	limiter := ratelimit.NewLimiter()
	registry := service.NewRegistry(service.Dependencies{
		Subscriptions:    subscriptionRepository,
		ReadPosts:        readPostRepository,
		Posts:            client,
		Titles:           client,
		Recommendations:  client,
		FetchConcurrency: cfg.FetchConcurrency,
		Dates:            datetime.NewFormatter(),
	})
	authService := service.NewAuthService(userRepository, limiter)

	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}

	authMiddleware := middleware.NewAuthMiddleware(sessionStore)

	app := &Application{
		Router:                mux.NewRouter(),
		Config:                cfg,
		DBManager:             dbManager,
		Registry:              registry,
		Limiter:               limiter,
		AuthHandler:           handler.NewAuthHandler(authService, authMiddleware, registry),
		NewsletterHandler:     handler.NewNewsletterHandler(registry, authMiddleware, limiter, cfg.RefreshLimitPerMinute),
		ReaderHandler:         handler.NewReaderHandler(registry, authMiddleware),
		RecommendationHandler: handler.NewRecommendationHandler(registry, authMiddleware),
		AuthMiddleware:        authMiddleware,
	}

	app.setupMiddleware()
	app.setupRoutes()

	return app, nil
}

func newClient(cfg *config.Config) newsletterClient {
	opts := newsletter.Options{
		Timeout:           cfg.HTTPTimeout,
		Retry:             cfg.HTTPRetry,
		RequestsPerSecond: cfg.APIRequestsPerSecond,
	}
	if cfg.DirectMode() {
		logging.Info("newsletter API not configured, fetching feeds directly")
		return newsletter.NewDirectClient(opts)
	}
	logging.Info("using newsletter API", "base", cfg.NewsletterAPIBase)
	return newsletter.NewAPIClient(cfg.NewsletterAPIBase, opts)
}

func (a *Application) setupMiddleware() {
	a.Router.Use(chimw.RequestID, chimw.RealIP, requestLogger, chimw.Recoverer)
	a.Router.Use(securityHeadersMiddleware(a.Config.IsProduction()))

	if a.Config.IsProduction() {
		logging.Info("CSRF protection enabled")
		csrfOptions := []csrf.Option{
			csrf.Secure(true),
			csrf.HttpOnly(true),
			csrf.Path("/"),
			csrf.SameSite(csrf.SameSiteLaxMode),
		}
		if a.Config.AppURL != "" {
			csrfOptions = append(csrfOptions, csrf.TrustedOrigins([]string{a.Config.AppURL}))
			logging.Info("CSRF trusted origin", "origin", a.Config.AppURL)
		}
		a.Router.Use(csrf.Protect([]byte(a.Config.CSRFSecret), csrfOptions...))
	} else {
		logging.Info("CSRF protection disabled in development mode")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func securityHeadersMiddleware(isProduction bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if isProduction {
				w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Application) setupRoutes() {
	a.Router.HandleFunc("/healthz", a.health).Methods("GET")
	a.Router.HandleFunc("/login", a.AuthHandler.Login).Methods("POST")
	a.Router.HandleFunc("/logout", a.AuthHandler.Logout).Methods("POST")

	api := a.Router.PathPrefix("/api").Subrouter()
	api.Use(a.AuthMiddleware.RequireAuth)

	api.HandleFunc("/me", a.AuthHandler.Me).Methods("GET")

	api.HandleFunc("/newsletters", a.NewsletterHandler.List).Methods("GET")
	api.HandleFunc("/newsletters", a.NewsletterHandler.Add).Methods("POST")
	api.HandleFunc("/newsletters/select", a.NewsletterHandler.Select).Methods("POST")
	api.HandleFunc("/newsletters/refresh", a.NewsletterHandler.Refresh).Methods("POST")
	api.HandleFunc("/newsletters/{id:[0-9]+}", a.NewsletterHandler.Delete).Methods("DELETE")

	api.HandleFunc("/reader", a.ReaderHandler.Current).Methods("GET")
	api.HandleFunc("/reader/next", a.ReaderHandler.Next).Methods("POST")
	api.HandleFunc("/reader/prev", a.ReaderHandler.Prev).Methods("POST")
	api.HandleFunc("/reader/done", a.ReaderHandler.Done).Methods("POST")
	api.HandleFunc("/posts/{id}/read", a.ReaderHandler.MarkRead).Methods("POST")

	api.HandleFunc("/recommendations", a.RecommendationHandler.List).Methods("GET")
	api.HandleFunc("/recommendations/source", a.RecommendationHandler.Source).Methods("POST")
	api.HandleFunc("/recommendations/toggle", a.RecommendationHandler.Toggle).Methods("POST")
	api.HandleFunc("/recommendations/toggle-all", a.RecommendationHandler.ToggleAll).Methods("POST")
	api.HandleFunc("/recommendations/add", a.RecommendationHandler.Add).Methods("POST")
}

func (a *Application) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.DBManager.GetDB().PingContext(ctx); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Close stops every reader session and releases the database.
func (a *Application) Close() error {
	if a.Registry != nil {
		a.Registry.Close()
	}
	if a.Limiter != nil {
		a.Limiter.Close()
	}
	if a.DBManager != nil {
		return a.DBManager.Close()
	}
	return nil
}
