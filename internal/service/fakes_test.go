package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/newsletter"
)

type memorySubscriptions struct {
	mu      sync.Mutex
	nextID  int
	rows    []domain.Subscription
	listErr error
	failAdd map[string]error
}

func newMemorySubscriptions(userID int, urls ...string) *memorySubscriptions {
	m := &memorySubscriptions{failAdd: map[string]error{}}
	for _, u := range urls {
		m.Create(context.Background(), userID, u)
	}
	return m
}

func (m *memorySubscriptions) ListByUser(ctx context.Context, userID int) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []domain.Subscription{}
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memorySubscriptions) Create(ctx context.Context, userID int, url string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failAdd[url]; err != nil {
		return nil, err
	}
	for _, r := range m.rows {
		if r.UserID == userID && r.URL == url {
			return nil, domain.ErrAlreadySubscribed
		}
	}
	m.nextID++
	row := domain.Subscription{
		ID:        m.nextID,
		URL:       url,
		UserID:    userID,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, m.nextID, 0, time.UTC),
	}
	m.rows = append(m.rows, row)
	return &row, nil
}

func (m *memorySubscriptions) Delete(ctx context.Context, id, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ID == id && r.UserID == userID {
			m.rows = append(m.rows[:i:i], m.rows[i+1:]...)
			return nil
		}
	}
	return domain.ErrSubscriptionNotFound
}

type memoryReads struct {
	mu      sync.Mutex
	ids     map[int][]domain.PostID
	inserts atomic.Int32
	failErr error
	listErr error
	gate    chan struct{}
}

func newMemoryReads(userID int, ids ...domain.PostID) *memoryReads {
	return &memoryReads{ids: map[int][]domain.PostID{userID: ids}}
}

func (m *memoryReads) ListByUser(ctx context.Context, userID int) ([]domain.PostID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.PostID(nil), m.ids[userID]...), nil
}

func (m *memoryReads) Insert(ctx context.Context, userID int, postID domain.PostID) error {
	m.inserts.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.ids[userID] = append(m.ids[userID], postID)
	return nil
}

// fakePosts serves canned pages. URLs listed in gates block until the
// channel is closed.
type fakePosts struct {
	mu    sync.Mutex
	pages map[string]*newsletter.Page
	errs  map[string]error
	gates map[string]chan struct{}
	calls map[string]int
}

func newFakePosts() *fakePosts {
	return &fakePosts{
		pages: map[string]*newsletter.Page{},
		errs:  map[string]error{},
		gates: map[string]chan struct{}{},
		calls: map[string]int{},
	}
}

func (f *fakePosts) set(url string, posts ...domain.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = &newsletter.Page{Posts: posts}
	delete(f.errs, url)
}

func (f *fakePosts) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakePosts) gate(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[url] = ch
	return ch
}

func (f *fakePosts) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakePosts) FetchPosts(ctx context.Context, url string) (*newsletter.Page, error) {
	f.mu.Lock()
	f.calls[url]++
	gate := f.gates[url]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if page, ok := f.pages[url]; ok {
		return &newsletter.Page{Title: page.Title, Posts: page.Posts}, nil
	}
	return nil, &newsletter.StatusError{Code: 404}
}

type fakeTitles struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	titles  map[string]string
}

func (f *fakeTitles) FetchTitle(ctx context.Context, url string) (string, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if t, ok := f.titles[url]; ok {
		return t, nil
	}
	return "", errors.New("no title")
}

type fakeRecommendations struct {
	recs []domain.Recommendation
	err  error
}

func (f *fakeRecommendations) FetchRecommendations(ctx context.Context, source string) ([]domain.Recommendation, error) {
	return f.recs, f.err
}

func makePosts(prefix string, n int) []domain.Post {
	posts := make([]domain.Post, n)
	for i := range posts {
		posts[i] = domain.Post{
			ID:    domain.PostID(fmt.Sprintf("%s-%d", prefix, i)),
			Title: fmt.Sprintf("%s post %d", prefix, i),
			URL:   fmt.Sprintf("https://%s.example/p/%d", prefix, i),
		}
	}
	return posts
}
