package service

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestResolveDeduplicatesConcurrentLookups(t *testing.T) {
	fetcher := &fakeTitles{
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
		titles:  map[string]string{"https://a.example/": "A Weekly"},
	}
	r := NewTitleResolver(fetcher)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "https://a.example/").Title
		}()
	}

	<-fetcher.started
	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("underlying requests = %d, want 1", n)
	}
	for i, got := range results {
		if got != "A Weekly" {
			t.Errorf("results[%d] = %q", i, got)
		}
	}
}

func TestResolveAllSkipsCachedAndInFlight(t *testing.T) {
	fetcher := &fakeTitles{
		gate:   make(chan struct{}),
		titles: map[string]string{"https://a.example/": "A", "https://b.example/": "B"},
	}
	r := NewTitleResolver(fetcher)
	urls := []string{"https://a.example/", "https://b.example/"}

	r.ResolveAll(context.Background(), urls)
	r.ResolveAll(context.Background(), urls)
	close(fetcher.gate)
	r.Wait()

	r.ResolveAll(context.Background(), urls)
	r.Wait()

	if n := fetcher.calls.Load(); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
	if e, ok := r.Title("https://b.example/"); !ok || e.Title != "B" {
		t.Fatalf("b entry = %+v, %v", e, ok)
	}
}

func TestResolveCachesErrors(t *testing.T) {
	fetcher := &fakeTitles{titles: map[string]string{}}
	r := NewTitleResolver(fetcher)

	first := r.Resolve(context.Background(), "https://broken.example/")
	if first.Error == "" || first.Title != "" {
		t.Fatalf("entry = %+v, want cached error", first)
	}
	r.Resolve(context.Background(), "https://broken.example/")
	r.ResolveAll(context.Background(), []string{"https://broken.example/"})
	r.Wait()

	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("failed lookup retried: %d requests", n)
	}
}
