package querycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/goliatone/go-query-cache/cache"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("querycache: store closed")

// Store keeps one entry per query key, runs at most one fetch per key at a
// time and pushes entry snapshots to subscribers.
type Store struct {
	mu      sync.Mutex
	entries map[cache.Key]*entry
	// parked holds evicted keys whose pages may still sit in results.
	parked map[cache.Key]struct{}
	// detached holds evicted entries whose fetch has not returned yet.
	detached map[*entry]struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	results   cache.ResultStore
	staleTime time.Duration
	now       func() time.Time
	logger    *slog.Logger
	stats     *counters

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	telemetry      instruments
}

// New creates an empty store.
func New(opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries:        make(map[cache.Key]*entry),
		parked:         make(map[cache.Key]struct{}),
		detached:       make(map[*entry]struct{}),
		ctx:            ctx,
		cancel:         cancel,
		now:            time.Now,
		logger:         slog.New(slog.DiscardHandler),
		stats:          newCounters(),
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initTelemetry()
	return s
}

// Subscribe registers listener for key. A missing entry is created and
// fetched; a loading entry is joined; a successful entry is served from memory;
// an errored entry is reported as is until Refetch or Invalidate. The listener
// receives the current snapshot before Subscribe returns unless a newer one
// beat it there.
func (s *Store) Subscribe(key cache.Key, fetch FetchFunc, listener Listener) (*Subscription, error) {
	if key.IsZero() {
		return nil, &cache.InvalidParamError{Field: "key", Message: "must not be zero"}
	}
	if fetch == nil {
		return nil, &cache.InvalidParamError{Field: "fetch", Message: "cannot be nil"}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	sub := newSubscription(s, key, listener)
	e, ok := s.entries[key]
	start := false
	if !ok {
		e = &entry{key: key}
		s.entries[key] = e
		delete(s.parked, key)
		start = true
	} else {
		switch e.status {
		case StatusLoading:
			s.stats.joins.Inc()
		case StatusSuccess:
			if s.isStale(e) {
				start = true
			} else {
				s.stats.hits.Inc()
			}
		case StatusIdle:
			start = !e.inflight
		}
	}
	e.fetch = fetch
	e.subs = append(e.subs, sub)

	if start {
		if ok {
			s.forgetResult(key)
		}
		s.beginFetchLocked(e)
	}
	snap := e.snapshot()
	s.mu.Unlock()

	s.logger.Debug("querycache: subscribed",
		"key", key.String(),
		"subscription", sub.id,
		"status", snap.Status.String(),
		"fetch", start,
	)
	sub.deliver(snap)
	return sub, nil
}

// Snapshot returns the current state of key.
func (s *Store) Snapshot(key cache.Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// Keys lists the cached keys in no particular order.
func (s *Store) Keys() []cache.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cache.Key, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Invalidate marks every entry matching pred stale. Entries with subscribers
// refetch once, keeping their previous data while loading; entries being
// fetched discard the response in flight and refetch when it lands; entries
// nobody watches are dropped. It returns the number of matched entries.
func (s *Store) Invalidate(pred cache.KeyPredicate) int {
	if pred == nil {
		return 0
	}

	var (
		notify []notification
		forget []cache.Key
	)
	matched := 0

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	for key, e := range s.entries {
		if !pred(key) {
			continue
		}
		matched++
		forget = append(forget, key)

		switch {
		case len(e.subs) == 0 && !e.inflight:
			delete(s.entries, key)
		case e.inflight:
			e.refetch = true
		default:
			s.beginFetchLocked(e)
			notify = append(notify, notification{snap: e.snapshot(), subs: e.subscribers()})
		}
	}
	for key := range s.parked {
		if pred(key) {
			forget = append(forget, key)
			delete(s.parked, key)
		}
	}
	for e := range s.detached {
		if pred(e.key) {
			e.refetch = true
		}
	}
	s.forgetResults(forget)
	s.mu.Unlock()

	s.stats.invalidations.Add(int64(matched))
	s.recordInvalidations(matched)
	s.logger.Debug("querycache: invalidated", "matched", matched, "refetching", len(notify))

	for _, n := range notify {
		for _, sub := range n.subs {
			sub.deliver(n.snap)
		}
	}
	return matched
}

// Refetch invalidates a single key. It is how an errored entry is retried.
func (s *Store) Refetch(key cache.Key) bool {
	return s.Invalidate(cache.ExactKey(key)) > 0
}

// Evict drops the entry for key and detaches its subscribers. The shared
// result store is left alone, so a new subscriber within its TTL is served
// without a remote call. A fetch in flight for the entry completes into the
// result store and is otherwise ignored, unless an invalidation matching key
// or Clear runs before it returns. Later invalidations matching key still
// reach the result store.
func (s *Store) Evict(key cache.Key) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
		if s.results != nil {
			s.parked[key] = struct{}{}
			if e.inflight {
				s.detached[e] = struct{}{}
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	for _, sub := range e.subs {
		sub.detach()
	}
	s.stats.evictions.Inc()
	s.logger.Debug("querycache: evicted", "key", key.String())
	return true
}

// Clear evicts every entry and forgets their shared results.
func (s *Store) Clear() {
	s.mu.Lock()
	old := s.entries
	s.entries = make(map[cache.Key]*entry)
	forget := make([]cache.Key, 0, len(old)+len(s.parked))
	for key, e := range old {
		forget = append(forget, key)
		if e.inflight && s.results != nil {
			e.refetch = true
			s.detached[e] = struct{}{}
		}
	}
	for e := range s.detached {
		e.refetch = true
	}
	for key := range s.parked {
		forget = append(forget, key)
	}
	s.parked = make(map[cache.Key]struct{})
	s.forgetResults(forget)
	s.mu.Unlock()

	for _, e := range old {
		for _, sub := range e.subs {
			sub.detach()
		}
	}
	s.stats.evictions.Add(int64(len(old)))
}

// Close clears the store, cancels fetches in flight and waits for their
// goroutines to return. Fetch functions that ignore ctx delay Close.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Clear()
	s.cancel()
	s.wg.Wait()
	return nil
}

// Stats returns the store counters.
func (s *Store) Stats() Stats {
	return s.stats.snapshot(s.Len())
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sub.key]; ok {
		e.removeSub(sub)
	}
}

func (s *Store) isStale(e *entry) bool {
	if s.staleTime <= 0 || e.inflight {
		return false
	}
	return s.now().Sub(e.fetchedAt) > s.staleTime
}

// beginFetchLocked must be called with s.mu held.
func (s *Store) beginFetchLocked(e *entry) {
	e.status = StatusLoading
	e.inflight = true
	e.refetch = false
	e.version++

	fetch := e.fetch
	s.stats.fetches.Inc()
	s.wg.Add(1)
	go s.runFetch(e, fetch)
}

func (s *Store) runFetch(e *entry, fetch FetchFunc) {
	defer s.wg.Done()

	key := e.key.String()
	ctx, span := s.startFetchSpan(s.ctx, e.key.Kind(), key)
	started := s.now()
	data, err := s.load(ctx, e.key, fetch)
	s.recordFetch(ctx, span, e.key.Kind(), s.now().Sub(started), err)

	s.complete(e, data, err)
}

func (s *Store) load(ctx context.Context, key cache.Key, fetch FetchFunc) (page *cache.ResultPage, err error) {
	defer func() {
		if r := recover(); r != nil {
			page, err = nil, fmt.Errorf("fetch panicked: %v", r)
		}
	}()

	if s.results == nil {
		page, err = fetch(ctx, key)
	} else {
		page, err = cache.GetOrFetch(ctx, s.results, key.String(), func(ctx context.Context) (*cache.ResultPage, error) {
			return fetch(ctx, key)
		})
	}
	if err == nil && page == nil {
		page = &cache.ResultPage{}
	}
	return page, err
}

func (s *Store) complete(e *entry, data *cache.ResultPage, err error) {
	s.mu.Lock()
	if cur, ok := s.entries[e.key]; !ok || cur != e || s.closed {
		n, restarted := s.settleDetachedLocked(e)
		s.mu.Unlock()
		s.stats.discarded.Inc()
		s.logger.Debug("querycache: response for detached entry dropped", "key", e.key.String())
		for _, sub := range n.subs {
			sub.deliver(n.snap)
		}
		if restarted {
			s.logger.Debug("querycache: entry refetched after stale detached response", "key", e.key.String())
		}
		return
	}

	e.inflight = false
	if e.refetch {
		s.stats.discarded.Inc()
		// the superseded response may have landed in the result store
		s.forgetResult(e.key)
		if len(e.subs) == 0 {
			delete(s.entries, e.key)
			s.mu.Unlock()
			return
		}
		s.beginFetchLocked(e)
		s.mu.Unlock()
		s.logger.Debug("querycache: superseded response dropped, refetching", "key", e.key.String())
		return
	}

	if err != nil {
		e.status = StatusError
		e.err = &cache.FetchError{Key: e.key, Err: err}
	} else {
		e.status = StatusSuccess
		e.data = data
		e.err = nil
		e.fetchedAt = s.now()
	}
	e.version++
	snap := e.snapshot()
	subs := e.subscribers()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("querycache: fetch failed", "key", e.key.String(), "error", err)
	}
	for _, sub := range subs {
		sub.deliver(snap)
	}
}

type notification struct {
	snap Entry
	subs []*Subscription
}

// settleDetachedLocked runs when the fetch of an evicted entry returns. If an
// invalidation or Clear touched the entry meanwhile, the response it wrote to
// the result store is dropped, and a live entry for the same key, which may
// have joined that response, is fetched again. Must be called with s.mu held.
func (s *Store) settleDetachedLocked(e *entry) (notification, bool) {
	if _, ok := s.detached[e]; !ok {
		return notification{}, false
	}
	delete(s.detached, e)
	if !e.refetch {
		return notification{}, false
	}
	s.forgetResult(e.key)

	cur, ok := s.entries[e.key]
	if !ok || cur == e || s.closed {
		return notification{}, false
	}
	switch {
	case cur.inflight:
		cur.refetch = true
		return notification{}, false
	case len(cur.subs) == 0:
		delete(s.entries, e.key)
		return notification{}, false
	}
	s.beginFetchLocked(cur)
	return notification{snap: cur.snapshot(), subs: cur.subscribers()}, true
}

// batchDeleter is implemented by result stores that drop several keys at once.
type batchDeleter interface {
	InvalidateKeys(ctx context.Context, keys []string) error
}

// forgetResult must be called with s.mu held.
func (s *Store) forgetResult(key cache.Key) {
	if s.results == nil {
		return
	}
	if err := s.results.Delete(context.Background(), key.String()); err != nil {
		s.logger.Warn("querycache: result store delete failed", "key", key.String(), "error", err)
	}
}

// forgetResults must be called with s.mu held.
func (s *Store) forgetResults(keys []cache.Key) {
	if s.results == nil || len(keys) == 0 {
		return
	}
	batch, ok := s.results.(batchDeleter)
	if !ok {
		for _, key := range keys {
			s.forgetResult(key)
		}
		return
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.String()
	}
	if err := batch.InvalidateKeys(context.Background(), names); err != nil {
		s.logger.Warn("querycache: result store delete failed", "keys", len(names), "error", err)
	}
}
