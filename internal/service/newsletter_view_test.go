package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsletter-reader/internal/domain"
)

type viewFixture struct {
	view   *NewsletterView
	subs   *memorySubscriptions
	reads  *memoryReads
	posts  *fakePosts
	titles *fakeTitles
}

func newViewFixture(t *testing.T, userID int, urls []string, read ...domain.PostID) *viewFixture {
	t.Helper()
	f := &viewFixture{
		subs:   newMemorySubscriptions(userID, urls...),
		reads:  newMemoryReads(userID, read...),
		posts:  newFakePosts(),
		titles: &fakeTitles{titles: map[string]string{}},
	}
	f.view = NewNewsletterView(
		NewSubscriptionStore(f.subs),
		NewPostAggregator(f.posts, 0),
		NewReadTracker(f.reads),
		NewTitleResolver(f.titles),
		nil,
	)
	t.Cleanup(f.view.Close)
	return f
}

func (f *viewFixture) start(t *testing.T, userID int) {
	t.Helper()
	if err := f.view.SetIdentity(context.Background(), userID); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	f.settle(t)
}

func (f *viewFixture) settle(t *testing.T) {
	t.Helper()
	if !f.view.Wait(2 * time.Second) {
		t.Fatal("background work did not settle")
	}
}

func TestUnreadCountsWithFailingEndpoint(t *testing.T) {
	a, b := "https://a.example/", "https://b.example/"
	f := newViewFixture(t, 1, []string{a, b}, "b-1")
	f.posts.fail(a, errors.New("HTTP 502"))
	f.posts.set(b, makePosts("b", 3)...)
	f.start(t, 1)

	if got := f.view.UnreadCount(a); got != 0 {
		t.Errorf("UnreadCount(A) = %d, want 0", got)
	}
	if got := f.view.UnreadCount(b); got != 2 {
		t.Errorf("UnreadCount(B) = %d, want 2", got)
	}

	snap := f.view.Snapshot()
	if snap.Selected != a || snap.SelectedError != "HTTP 502" {
		t.Errorf("with A selected: selected=%q error=%q", snap.Selected, snap.SelectedError)
	}

	if err := f.view.Select(b); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if snap := f.view.Snapshot(); snap.SelectedError != "" {
		t.Errorf("with B selected error = %q, want none", snap.SelectedError)
	}
}

func TestDefaultSelectionIsStable(t *testing.T) {
	a, b := "https://a.example/", "https://b.example/"
	f := newViewFixture(t, 1, []string{a, b})
	f.posts.set(a, makePosts("a", 1)...)
	f.posts.set(b, makePosts("b", 1)...)
	f.start(t, 1)

	if got := f.view.Selected(); got != a {
		t.Fatalf("default selection = %q, want %q", got, a)
	}

	f.posts.set(b, makePosts("b", 4)...)
	if err := f.view.RefreshFeed(context.Background(), b); err != nil {
		t.Fatalf("RefreshFeed: %v", err)
	}
	if _, err := f.view.AddSubscription(context.Background(), "https://c.example/"); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	f.settle(t)

	if got := f.view.Selected(); got != a {
		t.Fatalf("selection changed to %q after unrelated updates", got)
	}
}

func TestDefaultSelectionAfterFirstAdd(t *testing.T) {
	f := newViewFixture(t, 1, nil)
	f.start(t, 1)

	if got := f.view.Selected(); got != "" {
		t.Fatalf("selection with no subscriptions = %q", got)
	}

	f.posts.set("https://first.example/", makePosts("f", 2)...)
	if _, err := f.view.AddSubscription(context.Background(), "https://first.example/"); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	f.settle(t)

	if got := f.view.Selected(); got != "https://first.example/" {
		t.Fatalf("selection = %q", got)
	}
	if got := f.view.UnreadCount("https://first.example/"); got != 2 {
		t.Fatalf("new subscription not fetched: unread = %d", got)
	}
}

func TestMarkReadDecrementsUnreadOnce(t *testing.T) {
	a := "https://a.example/"
	f := newViewFixture(t, 1, []string{a})
	f.posts.set(a, makePosts("a", 3)...)
	f.start(t, 1)

	f.view.MarkRead(context.Background(), "a-0").Wait()
	if got := f.view.UnreadCount(a); got != 2 {
		t.Fatalf("unread after mark = %d, want 2", got)
	}
	f.view.MarkRead(context.Background(), "a-0").Wait()
	if got := f.view.UnreadCount(a); got != 2 {
		t.Fatalf("unread after second mark = %d, want 2", got)
	}
}

func TestCursorOnMarkLastItem(t *testing.T) {
	a := "https://a.example/"
	f := newViewFixture(t, 1, []string{a})
	f.posts.set(a, makePosts("a", 5)...)
	f.start(t, 1)

	for i := 0; i < 4; i++ {
		f.view.Next()
	}
	if item, _ := f.view.Current(); item.Position != 5 {
		t.Fatalf("position = %d, want 5", item.Position)
	}

	f.view.MarkCurrentRead(context.Background()).Wait()

	snap := f.view.Snapshot()
	if snap.VisibleCount != 4 || snap.Cursor != 3 {
		t.Fatalf("visible=%d cursor=%d, want 4 and 3", snap.VisibleCount, snap.Cursor)
	}
	if item, _ := f.view.Current(); item.Post.ID != "a-3" {
		t.Fatalf("current = %q, want a-3", item.Post.ID)
	}
}

func TestCursorOnMarkMiddleItem(t *testing.T) {
	a := "https://a.example/"
	f := newViewFixture(t, 1, []string{a})
	f.posts.set(a, makePosts("a", 5)...)
	f.start(t, 1)

	f.view.Next()
	f.view.Next()
	f.view.MarkCurrentRead(context.Background()).Wait()

	snap := f.view.Snapshot()
	if snap.VisibleCount != 4 || snap.Cursor != 2 {
		t.Fatalf("visible=%d cursor=%d, want 4 and 2", snap.VisibleCount, snap.Cursor)
	}
	if item, _ := f.view.Current(); item.Post.ID != "a-3" {
		t.Fatalf("current = %q, want a-3 to slide into place", item.Post.ID)
	}
}

func TestCursorOnMarkOnlyItem(t *testing.T) {
	a := "https://a.example/"
	f := newViewFixture(t, 1, []string{a})
	f.posts.set(a, makePosts("a", 1)...)
	f.start(t, 1)

	f.view.MarkCurrentRead(context.Background()).Wait()
	if _, ok := f.view.Current(); ok {
		t.Fatal("a post is still visible")
	}
	if snap := f.view.Snapshot(); snap.Cursor != 0 {
		t.Fatalf("cursor = %d, want 0", snap.Cursor)
	}
	if f.view.MarkCurrentRead(context.Background()) != nil {
		t.Fatal("MarkCurrentRead with nothing visible returned a mark")
	}
}

func TestCursorClampsWhenListShrinks(t *testing.T) {
	a := "https://a.example/"
	f := newViewFixture(t, 1, []string{a})
	f.posts.set(a, makePosts("a", 5)...)
	f.start(t, 1)

	for i := 0; i < 4; i++ {
		f.view.Next()
	}
	f.posts.set(a, makePosts("a", 2)...)
	if err := f.view.RefreshFeed(context.Background(), a); err != nil {
		t.Fatalf("RefreshFeed: %v", err)
	}

	if snap := f.view.Snapshot(); snap.Cursor != 1 {
		t.Fatalf("cursor = %d, want 1", snap.Cursor)
	}
}

func TestRollbackRestoresVisiblePost(t *testing.T) {
	a := "https://a.example/"
	f := newViewFixture(t, 1, []string{a})
	f.posts.set(a, makePosts("a", 3)...)
	f.start(t, 1)
	f.reads.failErr = errors.New("insert failed")

	mark := f.view.MarkCurrentRead(context.Background())
	if got := mark.Wait(); got != MarkRolledBack {
		t.Fatalf("state = %v", got)
	}
	if got := len(f.view.VisiblePosts()); got != 3 {
		t.Fatalf("visible after rollback = %d, want 3", got)
	}
}

func TestRemoveSelectedFallsBackToFirst(t *testing.T) {
	a, b, c := "https://a.example/", "https://b.example/", "https://c.example/"
	f := newViewFixture(t, 1, []string{a, b, c})
	f.start(t, 1)

	if err := f.view.Select(b); err != nil {
		t.Fatalf("Select: %v", err)
	}
	var idB int
	for _, row := range f.view.Snapshot().Rows {
		if row.URL == b {
			idB = row.ID
		}
	}
	if err := f.view.RemoveSubscription(context.Background(), idB); err != nil {
		t.Fatalf("RemoveSubscription: %v", err)
	}
	f.settle(t)

	if got := f.view.Selected(); got != a {
		t.Fatalf("selection after removing it = %q, want %q", got, a)
	}
}

func TestSelectUnknownURL(t *testing.T) {
	f := newViewFixture(t, 1, []string{"https://a.example/"})
	f.start(t, 1)
	if err := f.view.Select("https://zzz.example/"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("Select = %v", err)
	}
}

func TestTitleFallbackChain(t *testing.T) {
	a, b, c := "https://a.example/", "https://www.b.example/", "https://c.example/"
	f := newViewFixture(t, 1, []string{a, b, c})
	f.titles.titles[a] = "Resolved A"
	f.posts.set(a, makePosts("a", 1)...)
	f.posts.set(b, makePosts("b", 1)...)
	f.posts.set(c, makePosts("c", 1)...)
	f.posts.mu.Lock()
	f.posts.pages[c].Title = "Embedded C"
	f.posts.mu.Unlock()
	f.start(t, 1)

	if got := f.view.Title(a); got != "Resolved A" {
		t.Errorf("Title(a) = %q", got)
	}
	if got := f.view.Title(b); got != "b.example" {
		t.Errorf("Title(b) = %q", got)
	}
	if got := f.view.Title(c); got != "Embedded C" {
		t.Errorf("Title(c) = %q", got)
	}
}

func TestSignOutResetsView(t *testing.T) {
	a := "https://a.example/"
	f := newViewFixture(t, 1, []string{a})
	f.posts.set(a, makePosts("a", 2)...)
	f.start(t, 1)

	if err := f.view.SetIdentity(context.Background(), 0); err != nil {
		t.Fatalf("SetIdentity(0): %v", err)
	}
	f.settle(t)

	snap := f.view.Snapshot()
	if len(snap.Rows) != 0 || snap.Selected != "" || snap.VisibleCount != 0 {
		t.Fatalf("snapshot after sign-out = %+v", snap)
	}
	if f.view.UnreadCount(a) != 0 {
		t.Fatal("posts of previous identity still cached")
	}
}

func TestLoadingCoversSubscriptionsAndPosts(t *testing.T) {
	a := "https://a.example/"
	f := newViewFixture(t, 1, []string{a})
	f.posts.set(a, makePosts("a", 1)...)
	gate := f.posts.gate(a)

	if err := f.view.SetIdentity(context.Background(), 1); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	if !f.view.Snapshot().Loading {
		t.Fatal("not loading while the fan-out is pending")
	}
	close(gate)
	f.settle(t)
	if f.view.Snapshot().Loading {
		t.Fatal("still loading after settle")
	}
}
