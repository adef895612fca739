package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"newsletter-reader/internal/domain"
	"newsletter-reader/pkg/datetime"

	"golang.org/x/sync/errgroup"
)

// resetKey never equals a real URL-set key, so the next reconcile after an
// identity change always starts a fan-out.
const resetKey = "\x01reset"

// RowView is one subscription as the reader lists it.
type RowView struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Unread int    `json:"unread"`
	Error  string `json:"error,omitempty"`
}

// ViewState is the derived state of the newsletter reader.
type ViewState struct {
	Rows          []RowView `json:"rows"`
	Selected      string    `json:"selected"`
	Loading       bool      `json:"loading"`
	Error         string    `json:"error,omitempty"`
	SelectedError string    `json:"selected_error,omitempty"`
	Cursor        int       `json:"cursor"`
	VisibleCount  int       `json:"visible_count"`
}

// ReaderItem is the post under the navigation cursor.
type ReaderItem struct {
	Post     domain.Post `json:"post"`
	Position int         `json:"position"`
	Total    int         `json:"total"`
	Date     string      `json:"date,omitempty"`
	Age      string      `json:"age,omitempty"`
}

// NewsletterView composes the subscription store, post aggregator, read
// tracker and title resolver into the reader's state: the selected
// endpoint, unread counts, the unread posts of the selection and a cursor
// over them. Derived values are recomputed from the components' latest
// snapshots on every read and on every change event seen by Run.
type NewsletterView struct {
	subs   *SubscriptionStore
	posts  *PostAggregator
	reads  *ReadTracker
	titles *TitleResolver
	dates  *datetime.Formatter

	ctx       context.Context
	cancel    context.CancelFunc
	fanouts   sync.WaitGroup
	closeOnce sync.Once

	mu          sync.Mutex
	selected    string
	cursor      int
	lastVisible int
	urlKey      string
}

func NewNewsletterView(subs *SubscriptionStore, posts *PostAggregator, reads *ReadTracker, titles *TitleResolver, dates *datetime.Formatter) *NewsletterView {
	ctx, cancel := context.WithCancel(context.Background())
	if dates == nil {
		dates = datetime.NewFormatter()
	}
	return &NewsletterView{
		subs:   subs,
		posts:  posts,
		reads:  reads,
		titles: titles,
		dates:  dates,
		ctx:    ctx,
		cancel: cancel,
		urlKey: resetKey,
	}
}

// SetIdentity switches the view to userID (zero for signed out). The
// subscription list and the read markers load in parallel; post and title
// fetches start in the background once the list is known.
func (v *NewsletterView) SetIdentity(ctx context.Context, userID int) error {
	v.mu.Lock()
	v.selected = ""
	v.cursor = 0
	v.lastVisible = 0
	v.urlKey = resetKey
	v.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return v.subs.Load(ctx, userID) })
	g.Go(func() error { return v.reads.Load(ctx, userID) })
	err := g.Wait()

	v.reconcile()
	return err
}

// Run recomputes derived state whenever a component publishes a change,
// until ctx is done.
func (v *NewsletterView) Run(ctx context.Context) {
	subsCh := v.subs.Subscribe()
	postsCh := v.posts.Subscribe()
	readsCh := v.reads.Subscribe()
	titlesCh := v.titles.Subscribe()
	defer func() {
		v.subs.notify.Unsubscribe(subsCh)
		v.posts.notify.Unsubscribe(postsCh)
		v.reads.notify.Unsubscribe(readsCh)
		v.titles.notify.Unsubscribe(titlesCh)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.ctx.Done():
			return
		case <-subsCh:
		case <-postsCh:
		case <-readsCh:
		case <-titlesCh:
			continue
		}
		v.reconcile()
	}
}

func (v *NewsletterView) reconcile() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconcileLocked()
}

// reconcileLocked applies default selection, the stale-selection policy,
// URL-set fan-out and cursor clamping. v.mu must be held.
func (v *NewsletterView) reconcileLocked() {
	subs := v.subs.Snapshot()

	if !subs.Loading {
		switch {
		case len(subs.Rows) == 0:
			v.selected = ""
		case v.selected == "":
			v.selected = subs.Rows[0].URL
		case !containsURL(subs.Rows, v.selected):
			// The selected subscription was removed.
			v.selected = subs.Rows[0].URL
			v.cursor = 0
		}

		urls := subs.URLs()
		if key := strings.Join(urls, "\x00"); key != v.urlKey {
			v.urlKey = key
			v.startFanout(urls)
		}
	}

	n := len(v.visibleLocked())
	if n != v.lastVisible {
		v.cursor = clampCursor(v.cursor, n)
		v.lastVisible = n
	}
}

func (v *NewsletterView) startFanout(urls []string) {
	if v.ctx.Err() != nil {
		return
	}
	fetch := v.posts.begin(v.ctx, urls)
	v.titles.ResolveAll(v.ctx, urls)

	v.fanouts.Add(1)
	go func() {
		defer v.fanouts.Done()
		if fetch() {
			v.reconcile()
		}
	}()
}

func containsURL(rows []domain.Subscription, url string) bool {
	return slices.ContainsFunc(rows, func(r domain.Subscription) bool { return r.URL == url })
}

func clampCursor(cursor, n int) int {
	if cursor > n-1 {
		cursor = n - 1
	}
	if cursor < 0 {
		cursor = 0
	}
	return cursor
}

func (v *NewsletterView) visibleLocked() []domain.Post {
	if v.selected == "" {
		return nil
	}
	entry, ok := v.posts.Entry(v.selected)
	if !ok || entry.Posts == nil {
		return nil
	}
	return unreadPosts(entry.Posts, v.reads.Snapshot().IDs)
}

func unreadPosts(posts []domain.Post, read map[domain.PostID]struct{}) []domain.Post {
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := read[p.ID]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Selected returns the selected endpoint URL, or "" when there is none.
func (v *NewsletterView) Selected() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconcileLocked()
	return v.selected
}

// Select makes url the selected endpoint and moves the cursor to the top.
func (v *NewsletterView) Select(url string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !containsURL(v.subs.Snapshot().Rows, url) {
		return domain.ErrSubscriptionNotFound
	}
	v.selected = url
	v.cursor = 0
	v.lastVisible = len(v.visibleLocked())
	return nil
}

// UnreadCount is the number of url's cached posts not yet marked read; 0
// while the fetch is pending or after it failed.
func (v *NewsletterView) UnreadCount(url string) int {
	entry, ok := v.posts.Entry(url)
	if !ok || entry.Posts == nil {
		return 0
	}
	read := v.reads.Snapshot().IDs
	n := 0
	for _, p := range entry.Posts {
		if _, ok := read[p.ID]; !ok {
			n++
		}
	}
	return n
}

// VisiblePosts returns the unread posts of the selected endpoint in source
// order.
func (v *NewsletterView) VisiblePosts() []domain.Post {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconcileLocked()
	return v.visibleLocked()
}

// Title resolves a display name for url: the looked-up page title, then a
// title embedded in the endpoint's posts payload, then the URL's host.
func (v *NewsletterView) Title(url string) string {
	if e, ok := v.titles.Title(url); ok && e.Title != "" {
		return e.Title
	}
	if e, ok := v.posts.Entry(url); ok && e.SourceTitle != "" {
		return e.SourceTitle
	}
	return domain.Label(url)
}

func (v *NewsletterView) Snapshot() ViewState {
	v.mu.Lock()
	v.reconcileLocked()
	selected, cursor := v.selected, v.cursor
	visible := len(v.visibleLocked())
	v.mu.Unlock()

	subs := v.subs.Snapshot()
	posts := v.posts.Snapshot()

	state := ViewState{
		Rows:         make([]RowView, 0, len(subs.Rows)),
		Selected:     selected,
		Loading:      subs.Loading || posts.Loading,
		Cursor:       cursor,
		VisibleCount: visible,
	}
	if subs.Err != nil {
		state.Error = subs.Err.Error()
	} else if reads := v.reads.Snapshot(); reads.Err != nil {
		state.Error = reads.Err.Error()
	}
	if e, ok := posts.Entries[selected]; ok && selected != "" {
		state.SelectedError = e.Error
	}

	for _, row := range subs.Rows {
		rv := RowView{
			ID:     row.ID,
			URL:    row.URL,
			Title:  v.Title(row.URL),
			Unread: v.UnreadCount(row.URL),
		}
		if e, ok := posts.Entries[row.URL]; ok {
			rv.Error = e.Error
		}
		state.Rows = append(state.Rows, rv)
	}
	return state
}

// Current returns the post under the cursor.
func (v *NewsletterView) Current() (ReaderItem, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconcileLocked()
	return v.currentLocked()
}

func (v *NewsletterView) currentLocked() (ReaderItem, bool) {
	visible := v.visibleLocked()
	if len(visible) == 0 {
		return ReaderItem{}, false
	}
	i := clampCursor(v.cursor, len(visible))
	p := visible[i]
	return ReaderItem{
		Post:     p,
		Position: i + 1,
		Total:    len(visible),
		Date:     v.dates.FormatArticleDate(p.PostDate),
		Age:      v.dates.Relative(p.PostDate),
	}, true
}

// Next moves the cursor forward, stopping at the last post.
func (v *NewsletterView) Next() (ReaderItem, bool) {
	return v.move(1)
}

// Prev moves the cursor back, stopping at the first post.
func (v *NewsletterView) Prev() (ReaderItem, bool) {
	return v.move(-1)
}

func (v *NewsletterView) move(delta int) (ReaderItem, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconcileLocked()
	v.cursor = clampCursor(v.cursor+delta, v.lastVisible)
	return v.currentLocked()
}

// MarkCurrentRead marks the post under the cursor as read. If it was the
// last visible post the cursor moves to the new last one; otherwise it
// stays put and the following post slides under it. It returns nil when
// nothing is visible.
func (v *NewsletterView) MarkCurrentRead(ctx context.Context) *Mark {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconcileLocked()

	visible := v.visibleLocked()
	n := len(visible)
	if n == 0 {
		return nil
	}
	i := clampCursor(v.cursor, n)

	mark := v.reads.MarkAsRead(ctx, visible[i].ID)
	if mark.State() == MarkRolledBack {
		return mark
	}

	switch {
	case n <= 1:
		v.cursor = 0
	case i >= n-1:
		v.cursor = n - 2
	default:
		v.cursor = i
	}
	v.lastVisible = len(v.visibleLocked())
	return mark
}

// MarkRead marks an arbitrary post of any endpoint as read.
func (v *NewsletterView) MarkRead(ctx context.Context, id domain.PostID) *Mark {
	mark := v.reads.MarkAsRead(ctx, id)
	v.reconcile()
	return mark
}

// AddSubscription adds url and starts fetching it in the background.
func (v *NewsletterView) AddSubscription(ctx context.Context, url string) (*domain.Subscription, error) {
	sub, err := v.subs.Add(ctx, url)
	if err != nil {
		return nil, err
	}
	v.reconcile()
	return sub, nil
}

// RemoveSubscription removes the subscription with id. Removing the
// selected endpoint selects the first remaining one.
func (v *NewsletterView) RemoveSubscription(ctx context.Context, id int) error {
	if err := v.subs.Remove(ctx, id); err != nil {
		return err
	}
	v.reconcile()
	return nil
}

// RefreshFeed re-fetches one endpoint without touching the others.
func (v *NewsletterView) RefreshFeed(ctx context.Context, url string) error {
	if !containsURL(v.subs.Snapshot().Rows, url) {
		return domain.ErrSubscriptionNotFound
	}
	if !v.posts.RefetchOne(ctx, url) {
		return ErrSuperseded
	}
	v.reconcile()
	return nil
}

// SubscribedURLs lists the subscribed endpoints in canonical order.
func (v *NewsletterView) SubscribedURLs() []string {
	return v.subs.Snapshot().URLs()
}

// Wait blocks until background fetches, title lookups and pending marks
// have settled, or timeout elapses. It reports whether everything settled.
func (v *NewsletterView) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		v.fanouts.Wait()
		v.titles.Wait()
		v.reads.Wait()
		close(done)
	}()
	select {
	case <-done:
		v.reconcile()
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close cancels in-flight background fetches.
func (v *NewsletterView) Close() {
	v.closeOnce.Do(v.cancel)
}

// ErrSuperseded is returned when a refresh result was discarded because
// newer state replaced it.
var ErrSuperseded = errors.New("refresh superseded by a newer fetch")
