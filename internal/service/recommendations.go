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
)

// AddFailure is one URL a bulk add could not subscribe to.
type AddFailure struct {
	URL string
	Err error
}

// BulkAddError reports the failed part of a bulk add. Successful adds are
// already committed when it is returned.
type BulkAddError struct {
	Failures []AddFailure
}

func (e *BulkAddError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s", f.URL, f.Err)
	}
	return strings.Join(parts, "; ")
}

func (e *BulkAddError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Subscriber is what the picker needs from the reader to commit additions.
type Subscriber interface {
	AddSubscription(ctx context.Context, url string) (*domain.Subscription, error)
	SubscribedURLs() []string
}

// PickerState is a snapshot of the recommendation picker.
type PickerState struct {
	Source     string                  `json:"source"`
	Candidates []domain.Recommendation `json:"candidates"`
	Selected   []string                `json:"selected"`
	Loading    bool                    `json:"loading"`
	Error      string                  `json:"error,omitempty"`
}

// RecommendationPicker lists endpoints recommended by a source newsletter,
// lets the user select some and subscribes to the selection one by one.
type RecommendationPicker struct {
	fetcher RecommendationFetcher
	target  Subscriber

	mu         sync.Mutex
	gen        uint64
	source     string
	candidates []domain.Recommendation
	selected   map[string]struct{}
	loading    bool
	err        error
}

func NewRecommendationPicker(fetcher RecommendationFetcher, target Subscriber) *RecommendationPicker {
	return &RecommendationPicker{
		fetcher:  fetcher,
		target:   target,
		selected: map[string]struct{}{},
	}
}

// LoadFrom fetches recommendations for source and drops those already
// subscribed. Selection is cleared.
func (p *RecommendationPicker) LoadFrom(ctx context.Context, source string) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return domain.ErrURLRequired
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.source = source
	p.candidates = nil
	p.selected = map[string]struct{}{}
	p.loading = true
	p.err = nil
	p.mu.Unlock()

	recs, err := p.fetcher.FetchRecommendations(ctx, source)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return nil
	}
	p.loading = false
	if err != nil {
		p.err = err
		logging.Warn("fetch recommendations failed", "source", source, "error", err)
		return err
	}

	subscribed := p.target.SubscribedURLs()
	seen := map[string]struct{}{}
	candidates := make([]domain.Recommendation, 0, len(recs))
	for _, r := range recs {
		if _, dup := seen[r.URL]; dup || slices.Contains(subscribed, r.URL) {
			continue
		}
		seen[r.URL] = struct{}{}
		candidates = append(candidates, r)
	}
	p.candidates = candidates
	return nil
}

// Toggle flips the selection of a candidate URL.
func (p *RecommendationPicker) Toggle(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isCandidateLocked(url) {
		return
	}
	selected := cloneSet(p.selected)
	if _, ok := selected[url]; ok {
		delete(selected, url)
	} else {
		selected[url] = struct{}{}
	}
	p.selected = selected
}

// ToggleAll selects every candidate, or clears the selection when every
// candidate is already selected.
func (p *RecommendationPicker) ToggleAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.candidates) > 0 && len(p.selected) == len(p.candidates) {
		p.selected = map[string]struct{}{}
		return
	}
	selected := make(map[string]struct{}, len(p.candidates))
	for _, c := range p.candidates {
		selected[c.URL] = struct{}{}
	}
	p.selected = selected
}

// AddSelected subscribes to each selected candidate in list order, one at
// a time. Added URLs leave the candidate list and the selection is
// cleared; failed URLs stay listed and are reported in a *BulkAddError.
func (p *RecommendationPicker) AddSelected(ctx context.Context) error {
	p.mu.Lock()
	var urls []string
	for _, c := range p.candidates {
		if _, ok := p.selected[c.URL]; ok {
			urls = append(urls, c.URL)
		}
	}
	gen := p.gen
	p.mu.Unlock()

	if len(urls) == 0 {
		return nil
	}

	added := map[string]struct{}{}
	var failures []AddFailure
	for _, u := range urls {
		if _, err := p.target.AddSubscription(ctx, u); err != nil {
			failures = append(failures, AddFailure{URL: u, Err: err})
			continue
		}
		added[u] = struct{}{}
	}

	p.mu.Lock()
	if gen == p.gen {
		p.candidates = slices.DeleteFunc(slices.Clone(p.candidates), func(r domain.Recommendation) bool {
			_, ok := added[r.URL]
			return ok
		})
		p.selected = map[string]struct{}{}
	}
	p.mu.Unlock()

	logging.Info("bulk add finished", "added", len(added), "failed", len(failures))
	if len(failures) > 0 {
		return &BulkAddError{Failures: failures}
	}
	return nil
}

func (p *RecommendationPicker) isCandidateLocked(url string) bool {
	return slices.ContainsFunc(p.candidates, func(r domain.Recommendation) bool { return r.URL == url })
}

func (p *RecommendationPicker) Snapshot() PickerState {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := PickerState{
		Source:     p.source,
		Candidates: p.candidates,
		Selected:   make([]string, 0, len(p.selected)),
		Loading:    p.loading,
	}
	for _, c := range p.candidates {
		if _, ok := p.selected[c.URL]; ok {
			state.Selected = append(state.Selected, c.URL)
		}
	}
	if p.err != nil {
		state.Error = p.err.Error()
	}
	return state
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// IsBulkAddError reports whether err is a partial bulk-add failure.
func IsBulkAddError(err error) bool {
	var bulk *BulkAddError
	return errors.As(err, &bulk)
}
