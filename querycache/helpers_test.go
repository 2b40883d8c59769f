package querycache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
)

const waitTimeout = 2 * time.Second

type recorder struct {
	mu    sync.Mutex
	snaps []Entry
	ch    chan Entry
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Entry, 128)}
}

func (r *recorder) listen(e Entry) {
	r.mu.Lock()
	r.snaps = append(r.snaps, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *recorder) all() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.snaps...)
}

func (r *recorder) waitFor(t *testing.T, match func(Entry) bool) Entry {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-r.ch:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot, got %d snapshots", len(r.all()))
			return Entry{}
		}
	}
}

func (r *recorder) waitStatus(t *testing.T, status Status) Entry {
	t.Helper()
	return r.waitFor(t, func(e Entry) bool { return e.Status == status })
}

// gatedFetcher blocks every call until a token is sent on release.
type gatedFetcher struct {
	calls   atomic.Int32
	started chan int32
	release chan struct{}
	respond func(call int32, key cache.Key) (*cache.ResultPage, error)
}

func newGatedFetcher(respond func(call int32, key cache.Key) (*cache.ResultPage, error)) *gatedFetcher {
	return &gatedFetcher{
		started: make(chan int32, 16),
		release: make(chan struct{}),
		respond: respond,
	}
}

func (g *gatedFetcher) fetch(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
	n := g.calls.Add(1)
	g.started <- n
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.respond(n, key)
}

func (g *gatedFetcher) waitStarted(t *testing.T, call int32) {
	t.Helper()
	select {
	case n := <-g.started:
		require.Equal(t, call, n)
	case <-time.After(waitTimeout):
		t.Fatalf("fetch call %d never started", call)
	}
}

func (g *gatedFetcher) unblock(t *testing.T) {
	t.Helper()
	select {
	case g.release <- struct{}{}:
	case <-time.After(waitTimeout):
		t.Fatal("no fetch waiting for release")
	}
}

// countingFetcher answers immediately.
type countingFetcher struct {
	calls   atomic.Int32
	respond func(call int32, key cache.Key) (*cache.ResultPage, error)
}

func (c *countingFetcher) fetch(_ context.Context, key cache.Key) (*cache.ResultPage, error) {
	return c.respond(c.calls.Add(1), key)
}

func pageOf(pageSize int, ids ...string) *cache.ResultPage {
	items := make([]cache.Record, len(ids))
	for i, id := range ids {
		items[i] = cache.Record{ID: id}
	}
	return &cache.ResultPage{Items: items, PageSize: pageSize}
}

func usersKey(role string, page int) cache.Key {
	return cache.MustBuildKey("users", map[string]string{"role": role}, page)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
