package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// FetchFunc matches querycache.FetchFunc without importing it, so store tests
// can use these helpers.
type FetchFunc = func(ctx context.Context, key cache.Key) (*cache.ResultPage, error)

// CountingFetcher records every call it forwards.
type CountingFetcher struct {
	next FetchFunc

	mu    sync.Mutex
	total int
	byKey map[cache.Key]int
}

// Counting wraps next with call accounting.
func Counting(next FetchFunc) *CountingFetcher {
	return &CountingFetcher{next: next, byKey: make(map[cache.Key]int)}
}

// Fetch forwards to the wrapped function.
func (c *CountingFetcher) Fetch(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
	c.mu.Lock()
	c.total++
	c.byKey[key]++
	c.mu.Unlock()
	return c.next(ctx, key)
}

// Calls returns the number of forwarded calls.
func (c *CountingFetcher) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// CallsFor returns the number of calls made for key.
func (c *CountingFetcher) CallsFor(key cache.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byKey[key]
}

// GatedFetcher holds every call until released, so tests can act while a
// fetch is in flight.
type GatedFetcher struct {
	next    FetchFunc
	started chan cache.Key
	release chan struct{}
}

// Gated wraps next behind a gate.
func Gated(next FetchFunc) *GatedFetcher {
	return &GatedFetcher{
		next:    next,
		started: make(chan cache.Key, 64),
		release: make(chan struct{}, 64),
	}
}

// Fetch blocks until Release is called or ctx is done.
func (g *GatedFetcher) Fetch(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
	g.started <- key
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.next(ctx, key)
}

// WaitStarted waits for the next call to reach the gate and returns its key.
func (g *GatedFetcher) WaitStarted(t testing.TB) cache.Key {
	t.Helper()
	select {
	case key := <-g.started:
		return key
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fetch to start")
		return cache.Key{}
	}
}

// Release lets n held calls proceed.
func (g *GatedFetcher) Release(n int) {
	for i := 0; i < n; i++ {
		g.release <- struct{}{}
	}
}

// Failing returns a query function that always fails with err.
func Failing(err error) FetchFunc {
	return func(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
		return nil, err
	}
}

// FailFirst fails the first n calls with err, then forwards to next.
func FailFirst(n int, err error, next FetchFunc) FetchFunc {
	var (
		mu        sync.Mutex
		remaining = n
	)
	return func(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
		mu.Lock()
		fail := remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()
		if fail {
			return nil, err
		}
		return next(ctx, key)
	}
}
