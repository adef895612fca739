package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/repository"
)

// SubscriptionState is an immutable snapshot of the store. Rows must not
// be modified by callers.
type SubscriptionState struct {
	UserID  int
	Rows    []domain.Subscription
	Loading bool
	Err     error
}

// URLs returns the endpoint URLs in canonical order.
func (s SubscriptionState) URLs() []string {
	urls := make([]string, len(s.Rows))
	for i, row := range s.Rows {
		urls[i] = row.URL
	}
	return urls
}

// SubscriptionStore owns the subscribed endpoints of the current identity.
// Adds are confirmed remotely before they become visible; removes take
// effect locally only after the remote delete succeeds.
type SubscriptionStore struct {
	repo   repository.SubscriptionRepository
	notify notifier

	mu      sync.RWMutex
	gen     uint64
	userID  int
	rows    []domain.Subscription
	loading bool
	err     error
}

func NewSubscriptionStore(repo repository.SubscriptionRepository) *SubscriptionStore {
	return &SubscriptionStore{repo: repo}
}

func (s *SubscriptionStore) Subscribe() <-chan Event { return s.notify.Subscribe() }

// Load replaces the rows with those of userID. A zero userID means signed
// out and clears the list. Results of a load superseded by a later call
// are discarded.
func (s *SubscriptionStore) Load(ctx context.Context, userID int) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if userID != s.userID {
		s.rows = nil
	}
	s.userID = userID
	s.err = nil
	s.loading = userID != 0
	s.mu.Unlock()
	s.notify.publish(EventSubscriptions)

	if userID == 0 {
		return nil
	}

	rows, err := s.repo.ListByUser(ctx, userID)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		logging.Debug("discarding superseded subscription load", "user_id", userID)
		return nil
	}
	s.loading = false
	if err != nil {
		s.rows = nil
		s.err = fmt.Errorf("failed to load subscriptions: %w", err)
	} else {
		s.rows = rows
	}
	loadErr := s.err
	s.mu.Unlock()
	s.notify.publish(EventSubscriptions)

	return loadErr
}

// Add subscribes to rawURL. Only emptiness is checked here; callers
// validate URL syntax. The confirmed row is appended to the end of the
// list.
func (s *SubscriptionStore) Add(ctx context.Context, rawURL string) (*domain.Subscription, error) {
	s.mu.RLock()
	userID := s.userID
	s.mu.RUnlock()

	if userID == 0 {
		return nil, domain.ErrNotSignedIn
	}
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return nil, domain.ErrURLRequired
	}

	sub, err := s.repo.Create(ctx, userID, url)
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadySubscribed) {
			logging.Warn("add subscription failed", "url", url, "error", err)
		}
		return nil, err
	}

	s.mu.Lock()
	if s.userID == userID && !slices.ContainsFunc(s.rows, func(r domain.Subscription) bool { return r.ID == sub.ID }) {
		rows := make([]domain.Subscription, len(s.rows), len(s.rows)+1)
		copy(rows, s.rows)
		s.rows = append(rows, *sub)
	}
	s.mu.Unlock()
	s.notify.publish(EventSubscriptions)

	return sub, nil
}

// Remove deletes the subscription with id. A row that is already gone
// remotely is pruned locally as well.
func (s *SubscriptionStore) Remove(ctx context.Context, id int) error {
	s.mu.RLock()
	userID := s.userID
	s.mu.RUnlock()

	if userID == 0 {
		return domain.ErrNotSignedIn
	}
	if id <= 0 {
		return domain.ErrInvalidSubscriptionID
	}

	if err := s.repo.Delete(ctx, id, userID); err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
		logging.Warn("remove subscription failed", "id", id, "error", err)
		return err
	}

	s.mu.Lock()
	if s.userID == userID {
		s.rows = slices.DeleteFunc(slices.Clone(s.rows), func(r domain.Subscription) bool { return r.ID == id })
	}
	s.mu.Unlock()
	s.notify.publish(EventSubscriptions)

	return nil
}

func (s *SubscriptionStore) Snapshot() SubscriptionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SubscriptionState{
		UserID:  s.userID,
		Rows:    s.rows,
		Loading: s.loading,
		Err:     s.err,
	}
}
