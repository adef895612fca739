package service

import (
	"context"
	"sync"

	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/repository"
	"newsletter-reader/pkg/datetime"
)

// Dependencies are the collaborators shared by every reader session.
type Dependencies struct {
	Subscriptions    repository.SubscriptionRepository
	ReadPosts        repository.ReadPostRepository
	Posts            PostsFetcher
	Titles           TitleFetcher
	Recommendations  RecommendationFetcher
	FetchConcurrency int
	Dates            *datetime.Formatter
}

// Session is the reader state of one signed-in identity.
type Session struct {
	UserID int
	View   *NewsletterView
	Picker *RecommendationPicker

	loadMu sync.Mutex
	loaded bool
	stop   context.CancelFunc
}

// Registry keeps one Session per signed-in identity. Page titles do not
// depend on the identity, so one TitleResolver is shared by all sessions.
type Registry struct {
	deps   Dependencies
	titles *TitleResolver

	mu       sync.Mutex
	sessions map[int]*Session
}

func NewRegistry(deps Dependencies) *Registry {
	if deps.Dates == nil {
		deps.Dates = datetime.NewFormatter()
	}
	return &Registry{
		deps:     deps,
		titles:   NewTitleResolver(deps.Titles),
		sessions: map[int]*Session{},
	}
}

// Session returns the session for userID, loading it on first use. A
// failed load keeps the session so its view can report the error inline;
// the load is retried on the next call.
func (r *Registry) Session(ctx context.Context, userID int) *Session {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if !ok {
		s = r.newSession(userID)
		r.sessions[userID] = s
	}
	r.mu.Unlock()

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if !s.loaded {
		if err := s.View.SetIdentity(ctx, userID); err != nil {
			logging.Warn("reader session load failed", "user_id", userID, "error", err)
		} else {
			s.loaded = true
		}
	}
	return s
}

func (r *Registry) newSession(userID int) *Session {
	view := NewNewsletterView(
		NewSubscriptionStore(r.deps.Subscriptions),
		NewPostAggregator(r.deps.Posts, r.deps.FetchConcurrency),
		NewReadTracker(r.deps.ReadPosts),
		r.titles,
		r.deps.Dates,
	)

	runCtx, stop := context.WithCancel(context.Background())
	go view.Run(runCtx)

	return &Session{
		UserID: userID,
		View:   view,
		Picker: NewRecommendationPicker(r.deps.Recommendations, view),
		stop:   stop,
	}
}

// Drop discards the session of userID, cancelling its background work.
func (r *Registry) Drop(userID int) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if ok {
		s.close()
	}
}

// Close drops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[int]*Session{}
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (s *Session) close() {
	s.stop()
	s.View.Close()
}
