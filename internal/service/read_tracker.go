package service

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/repository"
)

// MarkState is the lifecycle of one optimistic mark-as-read.
type MarkState int32

const (
	MarkPending MarkState = iota
	MarkCommitted
	MarkRolledBack
)

func (s MarkState) String() string {
	switch s {
	case MarkPending:
		return "pending"
	case MarkCommitted:
		return "committed"
	case MarkRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// Mark tracks a tentative read marker until the remote insert settles.
type Mark struct {
	PostID domain.PostID

	state atomic.Int32
	done  chan struct{}
}

func newMark(id domain.PostID) *Mark {
	return &Mark{PostID: id, done: make(chan struct{})}
}

func settledMark(id domain.PostID, state MarkState) *Mark {
	m := newMark(id)
	m.finish(state)
	return m
}

func (m *Mark) finish(state MarkState) {
	m.state.Store(int32(state))
	close(m.done)
}

func (m *Mark) State() MarkState {
	return MarkState(m.state.Load())
}

// Wait blocks until the mark is committed or rolled back.
func (m *Mark) Wait() MarkState {
	<-m.done
	return m.State()
}

// ReadState is an immutable snapshot of the tracker.
type ReadState struct {
	IDs     map[domain.PostID]struct{}
	Loading bool
	Err     error
}

// ReadTracker owns the set of post ids the current identity has read.
type ReadTracker struct {
	repo         repository.ReadPostRepository
	writeTimeout time.Duration
	notify       notifier
	inflight     sync.WaitGroup

	mu      sync.RWMutex
	gen     uint64
	userID  int
	ids     map[domain.PostID]struct{}
	pending map[domain.PostID]*Mark
	loading bool
	err     error
}

func NewReadTracker(repo repository.ReadPostRepository) *ReadTracker {
	return &ReadTracker{
		repo:         repo,
		writeTimeout: 15 * time.Second,
		ids:          map[domain.PostID]struct{}{},
		pending:      map[domain.PostID]*Mark{},
	}
}

func (t *ReadTracker) Subscribe() <-chan Event { return t.notify.Subscribe() }

// Load replaces the set with the markers of userID; zero clears it.
func (t *ReadTracker) Load(ctx context.Context, userID int) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.userID = userID
	t.ids = map[domain.PostID]struct{}{}
	t.pending = map[domain.PostID]*Mark{}
	t.err = nil
	t.loading = userID != 0
	t.mu.Unlock()
	t.notify.publish(EventReads)

	if userID == 0 {
		return nil
	}

	list, err := t.repo.ListByUser(ctx, userID)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return nil
	}
	t.loading = false
	if err != nil {
		t.err = fmt.Errorf("failed to load read posts: %w", err)
	} else {
		ids := make(map[domain.PostID]struct{}, len(list))
		for _, id := range list {
			ids[id] = struct{}{}
		}
		// Marks applied while the load was in flight stay visible.
		maps.Copy(ids, t.ids)
		t.ids = ids
	}
	loadErr := t.err
	t.mu.Unlock()
	t.notify.publish(EventReads)

	return loadErr
}

// MarkAsRead adds id to the set at once and persists it in the background.
// If the insert fails the id is removed again and the failure is logged.
// Marking an id that is already read settles immediately without a remote
// call; marking an id whose insert is still in flight returns that insert's
// mark.
func (t *ReadTracker) MarkAsRead(ctx context.Context, id domain.PostID) *Mark {
	t.mu.Lock()
	if t.userID == 0 || id == "" {
		t.mu.Unlock()
		return settledMark(id, MarkRolledBack)
	}
	if m, ok := t.pending[id]; ok {
		t.mu.Unlock()
		return m
	}
	if _, ok := t.ids[id]; ok {
		t.mu.Unlock()
		return settledMark(id, MarkCommitted)
	}
	ids := maps.Clone(t.ids)
	ids[id] = struct{}{}
	t.ids = ids
	mark := newMark(id)
	t.pending[id] = mark
	gen, userID := t.gen, t.userID
	t.mu.Unlock()
	t.notify.publish(EventReads)

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.writeTimeout)
		err := t.repo.Insert(wctx, userID, id)
		cancel()

		if err == nil {
			t.mu.Lock()
			t.forgetPendingLocked(id, mark)
			t.mu.Unlock()
			mark.finish(MarkCommitted)
			return
		}

		logging.Warn("mark as read failed, rolling back", "post_id", id, "error", err)
		t.mu.Lock()
		t.forgetPendingLocked(id, mark)
		if gen == t.gen {
			if _, ok := t.ids[id]; ok {
				ids := maps.Clone(t.ids)
				delete(ids, id)
				t.ids = ids
			}
		}
		t.mu.Unlock()
		mark.finish(MarkRolledBack)
		t.notify.publish(EventReads)
	}()

	return mark
}

func (t *ReadTracker) forgetPendingLocked(id domain.PostID, mark *Mark) {
	if t.pending[id] == mark {
		delete(t.pending, id)
	}
}

func (t *ReadTracker) IsRead(id domain.PostID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

func (t *ReadTracker) Snapshot() ReadState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ReadState{IDs: t.ids, Loading: t.loading, Err: t.err}
}

// Wait blocks until every pending mark has settled.
func (t *ReadTracker) Wait() {
	t.inflight.Wait()
}
