package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/store"
)

// openPair opens two handles on one database, as two devices sharing a
// replicated store would see it.
func openPair(t *testing.T) (local, remote *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shared.db")
	local, err := store.Open(path, store.WithOrigin("local"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	remote, err = store.Open(path, store.WithOrigin("remote"))
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })
	return local, remote
}

func put(t *testing.T, s *store.Store, collection, tag string) {
	t.Helper()
	_, err := s.PutRecord(context.Background(), store.Record{
		Collection: collection,
		Tag:        tag,
		Owner:      tag,
		Author:     tag,
		Envelope:   []byte(`{}`),
	})
	require.NoError(t, err)
}

type recorder struct {
	mu   sync.Mutex
	seen []store.Change
}

func (r *recorder) handle(_ context.Context, c store.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, c)
	return nil
}

func (r *recorder) tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	for i, c := range r.seen {
		out[i] = c.Tag
	}
	return out
}

func TestPoll_SkipsOwnOrigin(t *testing.T) {
	ctx := context.Background()
	local, remote := openPair(t)

	e, err := New(ctx, local)
	require.NoError(t, err)
	rec := &recorder{}
	e.Handle("users", rec.handle)

	put(t, local, "users", "mine")
	put(t, remote, "users", "theirs")

	n, err := e.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"theirs"}, rec.tags())

	last, err := local.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, last, e.Cursor(), "cursor passes skipped rows too")
}

func TestPoll_StartsAtFeedEnd(t *testing.T) {
	ctx := context.Background()
	local, remote := openPair(t)

	put(t, remote, "users", "before")

	e, err := New(ctx, local)
	require.NoError(t, err)
	rec := &recorder{}
	e.Handle("users", rec.handle)

	put(t, remote, "users", "after")

	_, err = e.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"after"}, rec.tags())
}

func TestPoll_WithCursorReplaysFeed(t *testing.T) {
	ctx := context.Background()
	local, remote := openPair(t)

	put(t, remote, "users", "a")
	put(t, remote, "users", "b")

	e, err := New(ctx, local, WithCursor(0), WithBatchSize(1))
	require.NoError(t, err)
	rec := &recorder{}
	e.Handle("users", rec.handle)

	n, err := e.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, rec.tags())
}

func TestPoll_RoutesByCollection(t *testing.T) {
	ctx := context.Background()
	local, remote := openPair(t)

	e, err := New(ctx, local)
	require.NoError(t, err)
	users, groups := &recorder{}, &recorder{}
	e.Handle("users", users.handle)
	e.Handle("groups", groups.handle)

	put(t, remote, "groups", "g")
	put(t, remote, "users", "u")
	put(t, remote, "unhandled", "x")

	n, err := e.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"u"}, users.tags())
	assert.Equal(t, []string{"g"}, groups.tags())
}

func TestPoll_HandlerErrorDoesNotStopDispatch(t *testing.T) {
	ctx := context.Background()
	local, remote := openPair(t)

	e, err := New(ctx, local)
	require.NoError(t, err)
	rec := &recorder{}
	e.Handle("users", func(ctx context.Context, c store.Change) error {
		if c.Tag == "bad" {
			return errors.New("boom")
		}
		return rec.handle(ctx, c)
	})

	put(t, remote, "users", "bad")
	put(t, remote, "users", "good")

	n, err := e.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"good"}, rec.tags())
}

func TestRun_SyncDrainsFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	local, remote := openPair(t)

	e, err := New(ctx, local, WithPollInterval(time.Hour))
	require.NoError(t, err)
	rec := &recorder{}
	e.Handle("users", rec.handle)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	put(t, remote, "users", "one")
	put(t, remote, "users", "two")
	require.NoError(t, e.Sync(ctx))
	assert.Equal(t, []string{"one", "two"}, rec.tags())

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRun_WakeTriggersPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	local, remote := openPair(t)

	wake, unsubscribe := remote.Subscribe()
	defer unsubscribe()

	e, err := New(ctx, local, WithPollInterval(time.Hour), WithWake(wake))
	require.NoError(t, err)

	got := make(chan string, 1)
	e.Handle("users", func(_ context.Context, c store.Change) error {
		got <- c.Tag
		return nil
	})
	go e.Run(ctx)

	put(t, remote, "users", "pushed")
	select {
	case tag := <-got:
		assert.Equal(t, "pushed", tag)
	case <-time.After(5 * time.Second):
		t.Fatal("wake signal did not trigger dispatch")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	local, _ := openPair(t)

	e, err := New(ctx, local)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.ErrorIs(t, e.Sync(context.Background()), ErrStopped)
}

func TestEnqueue_AppliesOriginFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	local, _ := openPair(t)

	e, err := New(ctx, local, WithPollInterval(time.Hour))
	require.NoError(t, err)
	rec := &recorder{}
	e.Handle("users", rec.handle)
	go e.Run(ctx)

	require.True(t, e.Enqueue(store.Change{Seq: 100, Collection: "users", Tag: "own", Origin: "local"}))
	require.True(t, e.Enqueue(store.Change{Seq: 101, Collection: "users", Tag: "other", Origin: "elsewhere"}))
	require.NoError(t, e.Sync(ctx))

	assert.Equal(t, []string{"other"}, rec.tags())
	assert.Equal(t, int64(101), e.Cursor())
}

func TestDispatchError(t *testing.T) {
	err := &DispatchError{
		Code:   ErrCodeHandlerFailed,
		Change: store.Change{Seq: 7, Collection: "users", Tag: "t"},
		Err:    errors.New("boom"),
	}
	wrapped := errors.Join(errors.New("outer"), err)

	assert.True(t, IsHandlerError(wrapped))
	assert.False(t, IsFeedError(wrapped))
	assert.Contains(t, err.Error(), "seq=7")
	assert.Equal(t, "FEED_FAILED: boom", (&DispatchError{Code: ErrCodeFeedFailed, Err: errors.New("boom")}).Error())
}
