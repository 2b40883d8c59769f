package querycache

import (
	"context"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// FetchFunc runs the remote query for a key. Timeouts are its own business.
type FetchFunc func(ctx context.Context, key cache.Key) (*cache.ResultPage, error)

// Listener receives entry snapshots. Calls for one subscription never overlap
// and arrive with increasing Version.
type Listener func(Entry)

// Entry is an immutable snapshot of a cache entry.
type Entry struct {
	Key    cache.Key
	Status Status
	// Data is the last successfully fetched page. It is kept while a refetch is
	// loading and after a failed refetch.
	Data          *cache.ResultPage
	Err           error
	LastFetchedAt time.Time
	Version       uint64
}

// HasData reports whether the snapshot carries a page, fresh or stale.
func (e Entry) HasData() bool { return e.Data != nil }

// entry is the mutable state behind a key. Guarded by Store.mu.
type entry struct {
	key       cache.Key
	status    Status
	data      *cache.ResultPage
	err       error
	fetchedAt time.Time
	version   uint64

	fetch    FetchFunc
	subs     []*Subscription
	inflight bool
	// refetch marks an in-flight response as superseded by an invalidation.
	refetch bool
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:           e.key,
		Status:        e.status,
		Data:          e.data,
		Err:           e.err,
		LastFetchedAt: e.fetchedAt,
		Version:       e.version,
	}
}

func (e *entry) removeSub(sub *Subscription) {
	for i, s := range e.subs {
		if s == sub {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

func (e *entry) subscribers() []*Subscription {
	return append([]*Subscription(nil), e.subs...)
}
