package service

import (
	"context"
	"maps"
	"sync"
	"time"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/logging"

	"golang.org/x/sync/errgroup"
)

// PostsState is an immutable snapshot of the aggregator's cache.
type PostsState struct {
	Entries map[string]domain.PostsEntry
	Loading bool
}

// PostAggregator fetches each endpoint's posts independently. A full
// fan-out settles only after every endpoint has answered, and its result
// replaces the cache wholesale. The cache map is never modified in place,
// so snapshots stay valid after later updates.
type PostAggregator struct {
	fetcher     PostsFetcher
	concurrency int
	notify      notifier

	mu       sync.RWMutex
	gen      uint64
	urls     map[string]struct{}
	entries  map[string]domain.PostsEntry
	loading  bool
	cancel   context.CancelFunc
	tokens   map[string]uint64
	tokenSeq uint64
}

// NewPostAggregator returns an aggregator that runs at most concurrency
// fetches at once; zero or less means one goroutine per endpoint.
func NewPostAggregator(fetcher PostsFetcher, concurrency int) *PostAggregator {
	return &PostAggregator{
		fetcher:     fetcher,
		concurrency: concurrency,
		urls:        map[string]struct{}{},
		entries:     map[string]domain.PostsEntry{},
		tokens:      map[string]uint64{},
	}
}

func (a *PostAggregator) Subscribe() <-chan Event { return a.notify.Subscribe() }

// FetchAll fetches every url concurrently and blocks until all have
// settled. It reports whether the result was applied; a fan-out superseded
// by a later FetchAll is cancelled and its results are discarded.
func (a *PostAggregator) FetchAll(ctx context.Context, urls []string) bool {
	return a.begin(ctx, urls)()
}

// begin claims a new generation for urls and returns the function that
// performs the fan-out. Claiming happens before begin returns, so callers
// that start fan-outs from different goroutines still get "last begun
// wins".
func (a *PostAggregator) begin(ctx context.Context, urls []string) func() bool {
	ctx, cancel := context.WithCancel(ctx)

	set := make(map[string]struct{}, len(urls))
	unique := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, dup := set[u]; dup {
			continue
		}
		set[u] = struct{}{}
		unique = append(unique, u)
	}

	a.mu.Lock()
	a.gen++
	gen := a.gen
	if a.cancel != nil {
		a.cancel()
	}
	a.cancel = cancel
	a.urls = set
	a.tokens = map[string]uint64{}
	a.loading = len(unique) > 0
	if len(unique) == 0 {
		a.entries = map[string]domain.PostsEntry{}
		a.cancel = nil
	}
	a.mu.Unlock()
	a.notify.publish(EventPosts)

	if len(unique) == 0 {
		cancel()
		return func() bool { return true }
	}

	return func() bool {
		defer cancel()
		return a.run(ctx, gen, unique)
	}
}

func (a *PostAggregator) run(ctx context.Context, gen uint64, urls []string) bool {
	start := time.Now()
	results := make([]domain.PostsEntry, len(urls))

	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, u := range urls {
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, u)
			return nil
		})
	}
	g.Wait()

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		logging.Debug("discarding superseded post fan-out", "urls", len(urls))
		return false
	}
	entries := make(map[string]domain.PostsEntry, len(urls))
	failed := 0
	for i, u := range urls {
		entries[u] = results[i]
		if results[i].Failed() {
			failed++
		}
	}
	a.entries = entries
	a.loading = false
	a.cancel = nil
	a.mu.Unlock()
	a.notify.publish(EventPosts)

	logging.Info("post fan-out settled", "urls", len(urls), "failed", failed, "took", time.Since(start).Round(time.Millisecond))
	return true
}

// RefetchOne re-fetches a single url and replaces only its entry. The
// result is dropped if the url left the current set, a newer fan-out
// started, or a newer RefetchOne for the same url was issued.
func (a *PostAggregator) RefetchOne(ctx context.Context, url string) bool {
	a.mu.Lock()
	if _, ok := a.urls[url]; !ok {
		a.mu.Unlock()
		return false
	}
	a.tokenSeq++
	token := a.tokenSeq
	a.tokens[url] = token
	gen := a.gen
	a.mu.Unlock()

	entry := a.fetchOne(ctx, url)

	a.mu.Lock()
	_, stillListed := a.urls[url]
	if gen != a.gen || !stillListed || a.tokens[url] != token {
		a.mu.Unlock()
		logging.Debug("discarding superseded refetch", "url", url)
		return false
	}
	entries := maps.Clone(a.entries)
	entries[url] = entry
	a.entries = entries
	a.mu.Unlock()
	a.notify.publish(EventPosts)

	return true
}

func (a *PostAggregator) fetchOne(ctx context.Context, url string) domain.PostsEntry {
	page, err := a.fetcher.FetchPosts(ctx, url)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn("fetch posts failed", "url", url, "error", err)
		}
		return domain.PostsEntry{Error: err.Error()}
	}

	posts := page.Posts
	if posts == nil {
		posts = []domain.Post{}
	}
	return domain.PostsEntry{Posts: posts, SourceTitle: page.Title}
}

// Entry returns the settled entry for url, if any.
func (a *PostAggregator) Entry(url string) (domain.PostsEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[url]
	return e, ok
}

func (a *PostAggregator) Snapshot() PostsState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return PostsState{Entries: a.entries, Loading: a.loading}
}
