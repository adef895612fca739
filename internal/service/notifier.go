package service

import (
	"context"
	"sync"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/newsletter"
)

// Event tells subscribers which component published a new snapshot.
type Event int

const (
	EventSubscriptions Event = iota
	EventPosts
	EventReads
	EventTitles
)

func (e Event) String() string {
	switch e {
	case EventSubscriptions:
		return "subscriptions"
	case EventPosts:
		return "posts"
	case EventReads:
		return "reads"
	case EventTitles:
		return "titles"
	default:
		return "unknown"
	}
}

// notifier fans change events out to subscribers. Sends never block; a
// subscriber that falls behind only misses duplicate wake-ups.
type notifier struct {
	mu   sync.Mutex
	subs []chan Event
}

func (n *notifier) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

func (n *notifier) Unsubscribe(ch <-chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, sub := range n.subs {
		if sub == ch {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

func (n *notifier) publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// PostsFetcher returns the posts of one newsletter endpoint.
type PostsFetcher interface {
	FetchPosts(ctx context.Context, newsletterURL string) (*newsletter.Page, error)
}

// TitleFetcher looks up the human-readable title of a page.
type TitleFetcher interface {
	FetchTitle(ctx context.Context, pageURL string) (string, error)
}

// RecommendationFetcher lists endpoints recommended by a source newsletter.
type RecommendationFetcher interface {
	FetchRecommendations(ctx context.Context, sourceURL string) ([]domain.Recommendation, error)
}
