package querycache

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
)

// Subscription is a live interest in one key. Close it when the consumer no
// longer renders the key; the entry itself stays cached.
type Subscription struct {
	id       string
	store    *Store
	key      cache.Key
	listener Listener

	mu         sync.Mutex
	pending    *Entry
	delivering bool
	last       uint64
	closed     atomic.Bool
}

func newSubscription(store *Store, key cache.Key, listener Listener) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		store:    store,
		key:      key,
		listener: listener,
	}
}

// ID returns a unique identifier for log correlation.
func (s *Subscription) ID() string { return s.id }

// Key returns the subscribed key.
func (s *Subscription) Key() cache.Key { return s.key }

// Current returns the latest snapshot of the subscribed entry.
func (s *Subscription) Current() (Entry, bool) {
	return s.store.Snapshot(s.key)
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.store.unsubscribe(s)
}

// Closed reports whether the subscription stopped receiving snapshots.
func (s *Subscription) Closed() bool { return s.closed.Load() }

// detach stops deliveries without touching the store, used when the store
// drops the entry itself.
func (s *Subscription) detach() {
	s.closed.Store(true)
}

// deliver hands snap to the listener unless a newer snapshot was already
// delivered. A delivery arriving while the listener runs is queued and handed
// over by the goroutine already delivering, so a listener may call back into
// the store without deadlocking and never runs concurrently with itself.
func (s *Subscription) deliver(snap Entry) {
	if s.listener == nil || s.closed.Load() {
		return
	}

	s.mu.Lock()
	if s.pending == nil || snap.Version > s.pending.Version {
		s.pending = &snap
	}
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true

	for s.pending != nil {
		next := *s.pending
		s.pending = nil
		if next.Version <= s.last || s.closed.Load() {
			continue
		}
		s.last = next.Version
		s.mu.Unlock()
		s.listener(next)
		s.mu.Lock()
	}

	s.delivering = false
	s.mu.Unlock()
}
