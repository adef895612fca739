package service

import (
	"context"
	"maps"
	"sync"
	"time"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/logging"

	"golang.org/x/sync/singleflight"
)

// TitleResolver caches page titles per URL for its lifetime. Concurrent
// lookups for the same URL share one request, and failures are cached
// rather than retried.
type TitleResolver struct {
	fetcher TitleFetcher
	timeout time.Duration
	group   singleflight.Group
	notify  notifier
	pending sync.WaitGroup

	mu       sync.RWMutex
	entries  map[string]domain.TitleEntry
	inflight map[string]struct{}
}

func NewTitleResolver(fetcher TitleFetcher) *TitleResolver {
	return &TitleResolver{
		fetcher:  fetcher,
		timeout:  30 * time.Second,
		entries:  map[string]domain.TitleEntry{},
		inflight: map[string]struct{}{},
	}
}

func (r *TitleResolver) Subscribe() <-chan Event { return r.notify.Subscribe() }

// ResolveAll starts a lookup for every url that is neither cached nor in
// flight and returns without waiting. Each result is merged as soon as it
// arrives.
func (r *TitleResolver) ResolveAll(ctx context.Context, urls []string) {
	for _, u := range urls {
		r.mu.Lock()
		_, cached := r.entries[u]
		_, busy := r.inflight[u]
		if cached || busy {
			r.mu.Unlock()
			continue
		}
		r.inflight[u] = struct{}{}
		r.mu.Unlock()

		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			r.group.Do(u, func() (interface{}, error) { return r.fetch(ctx, u), nil })
		}()
	}
}

// Resolve returns the cached entry for url, looking it up first if needed.
// A caller that gives up early does not stop the shared lookup.
func (r *TitleResolver) Resolve(ctx context.Context, url string) domain.TitleEntry {
	if e, ok := r.Title(url); ok {
		return e
	}
	ch := r.group.DoChan(url, func() (interface{}, error) { return r.fetch(ctx, url), nil })
	select {
	case res := <-ch:
		return res.Val.(domain.TitleEntry)
	case <-ctx.Done():
		return domain.TitleEntry{Error: ctx.Err().Error()}
	}
}

// fetch performs one lookup and caches its outcome. Lookups are shared
// between sessions, so they run detached from the caller's cancellation
// and are bounded by the resolver's own timeout.
func (r *TitleResolver) fetch(ctx context.Context, url string) domain.TitleEntry {
	defer func() {
		r.mu.Lock()
		delete(r.inflight, url)
		r.mu.Unlock()
	}()

	if e, ok := r.Title(url); ok {
		return e
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	var entry domain.TitleEntry
	title, err := r.fetcher.FetchTitle(fctx, url)
	if err != nil {
		entry.Error = err.Error()
		logging.Warn("title lookup failed", "url", url, "error", err)
	} else {
		entry.Title = title
	}

	r.mu.Lock()
	entries := maps.Clone(r.entries)
	entries[url] = entry
	r.entries = entries
	r.mu.Unlock()
	r.notify.publish(EventTitles)

	return entry
}

// Title returns the cached entry for url.
func (r *TitleResolver) Title(url string) (domain.TitleEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[url]
	return e, ok
}

func (r *TitleResolver) Snapshot() map[string]domain.TitleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries
}

// Wait blocks until lookups started by ResolveAll have finished.
func (r *TitleResolver) Wait() {
	r.pending.Wait()
}
