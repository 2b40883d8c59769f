package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
)

var errUnavailable = errors.New("service unavailable")

func TestStore_ConcurrentSubscribersShareOneFetch(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := newGatedFetcher(func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1", "u2"), nil
	})
	key := usersKey("Faculty", 1)

	recorders := make([]*recorder, 10)
	var wg sync.WaitGroup
	for i := range recorders {
		recorders[i] = newRecorder()
		wg.Add(1)
		go func(r *recorder) {
			defer wg.Done()
			_, err := store.Subscribe(key, fetcher.fetch, r.listen)
			assert.NoError(t, err)
		}(recorders[i])
	}
	wg.Wait()

	fetcher.waitStarted(t, 1)
	fetcher.unblock(t)

	for _, r := range recorders {
		e := r.waitStatus(t, StatusSuccess)
		assert.Equal(t, []string{"u1", "u2"}, e.Data.IDs())
	}
	assert.Equal(t, int32(1), fetcher.calls.Load())

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Fetches)
	assert.Equal(t, int64(9), stats.Joins)
	assert.Equal(t, 1, stats.Entries)
}

func TestStore_InitialSnapshotIsLoading(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := newGatedFetcher(func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10), nil
	})
	r := newRecorder()
	sub, err := store.Subscribe(usersKey("All", 1), fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub.Close()

	first := r.waitFor(t, func(Entry) bool { return true })
	assert.Equal(t, StatusLoading, first.Status)
	assert.False(t, first.HasData())

	fetcher.waitStarted(t, 1)
	fetcher.unblock(t)
	done := r.waitStatus(t, StatusSuccess)
	assert.True(t, done.HasData())
	assert.Greater(t, done.Version, first.Version)
	assert.False(t, done.LastFetchedAt.IsZero())
}

func TestStore_SuccessServedFromMemory(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := &countingFetcher{respond: func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1"), nil
	}}
	key := usersKey("Faculty", 1)

	r1 := newRecorder()
	sub1, err := store.Subscribe(key, fetcher.fetch, r1.listen)
	require.NoError(t, err)
	r1.waitStatus(t, StatusSuccess)
	sub1.Close()

	r2 := newRecorder()
	sub2, err := store.Subscribe(key, fetcher.fetch, r2.listen)
	require.NoError(t, err)
	defer sub2.Close()

	first := r2.waitFor(t, func(Entry) bool { return true })
	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, []string{"u1"}, first.Data.IDs())
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, int64(1), store.Stats().Hits)
}

func TestStore_ErrorIsReportedUntilRefetch(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := &countingFetcher{respond: func(call int32, _ cache.Key) (*cache.ResultPage, error) {
		if call == 1 {
			return nil, errUnavailable
		}
		return pageOf(10, "u1"), nil
	}}
	key := usersKey("Faculty", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub.Close()

	failed := r.waitStatus(t, StatusError)
	var fetchErr *cache.FetchError
	require.True(t, errors.As(failed.Err, &fetchErr))
	assert.Equal(t, key, fetchErr.Key)
	assert.ErrorIs(t, failed.Err, errUnavailable)

	// a second subscriber sees the error without a new fetch
	r2 := newRecorder()
	sub2, err := store.Subscribe(key, fetcher.fetch, r2.listen)
	require.NoError(t, err)
	defer sub2.Close()
	assert.Equal(t, StatusError, r2.waitFor(t, func(Entry) bool { return true }).Status)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	require.True(t, store.Refetch(key))
	ok := r.waitStatus(t, StatusSuccess)
	assert.NoError(t, ok.Err)
	assert.Equal(t, []string{"u1"}, ok.Data.IDs())
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestStore_FailedRefetchKeepsPreviousData(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := &countingFetcher{respond: func(call int32, _ cache.Key) (*cache.ResultPage, error) {
		if call == 2 {
			return nil, errUnavailable
		}
		return pageOf(10, "u1"), nil
	}}
	key := usersKey("Faculty", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub.Close()
	r.waitStatus(t, StatusSuccess)

	store.Refetch(key)
	loading := r.waitStatus(t, StatusLoading)
	assert.Equal(t, []string{"u1"}, loading.Data.IDs())

	failed := r.waitStatus(t, StatusError)
	assert.Equal(t, []string{"u1"}, failed.Data.IDs())
	assert.ErrorIs(t, failed.Err, errUnavailable)
}

func TestStore_InvalidateWhileInFlightDiscardsResponse(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := newGatedFetcher(func(call int32, _ cache.Key) (*cache.ResultPage, error) {
		if call == 1 {
			return pageOf(10, "stale"), nil
		}
		return pageOf(10, "fresh"), nil
	})
	key := usersKey("Faculty", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub.Close()

	fetcher.waitStarted(t, 1)
	assert.Equal(t, 1, store.Invalidate(cache.ForKind("users")))

	fetcher.unblock(t)
	fetcher.waitStarted(t, 2)
	fetcher.unblock(t)

	done := r.waitStatus(t, StatusSuccess)
	assert.Equal(t, []string{"fresh"}, done.Data.IDs())
	assert.Equal(t, int32(2), fetcher.calls.Load())

	for _, e := range r.all() {
		assert.False(t, e.Data.Contains("stale"), "superseded response must never be published")
	}
	assert.Equal(t, int64(1), store.Stats().Discarded)
}

func TestStore_InvalidateKeepsDataWhileLoading(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := &countingFetcher{respond: func(call int32, _ cache.Key) (*cache.ResultPage, error) {
		if call == 1 {
			return pageOf(10, "u1", "u2"), nil
		}
		return pageOf(10, "u2"), nil
	}}
	key := usersKey("All", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub.Close()
	r.waitStatus(t, StatusSuccess)

	assert.Equal(t, 1, store.Invalidate(cache.ForKind("users")))
	loading := r.waitStatus(t, StatusLoading)
	assert.Equal(t, []string{"u1", "u2"}, loading.Data.IDs())

	done := r.waitStatus(t, StatusSuccess)
	assert.Equal(t, []string{"u2"}, done.Data.IDs())
}

func TestStore_InvalidateDropsUnwatchedEntries(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := &countingFetcher{respond: func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1"), nil
	}}
	watched := usersKey("Faculty", 1)
	unwatched := usersKey("Student", 1)
	other := cache.MustBuildKey("courses", nil, 1)

	rw := newRecorder()
	subW, err := store.Subscribe(watched, fetcher.fetch, rw.listen)
	require.NoError(t, err)
	defer subW.Close()
	rw.waitStatus(t, StatusSuccess)

	ru := newRecorder()
	subU, err := store.Subscribe(unwatched, fetcher.fetch, ru.listen)
	require.NoError(t, err)
	ru.waitStatus(t, StatusSuccess)
	subU.Close()

	ro := newRecorder()
	subO, err := store.Subscribe(other, fetcher.fetch, ro.listen)
	require.NoError(t, err)
	defer subO.Close()
	ro.waitStatus(t, StatusSuccess)

	assert.Equal(t, 2, store.Invalidate(cache.ForKind("users")))

	_, ok := store.Snapshot(unwatched)
	assert.False(t, ok)

	rw.waitStatus(t, StatusSuccess)
	e, ok := store.Snapshot(other)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, int32(4), fetcher.calls.Load())
}

func TestStore_EvictDropsLateResponse(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := newGatedFetcher(func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1"), nil
	})
	key := usersKey("Faculty", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)

	fetcher.waitStarted(t, 1)
	assert.True(t, store.Evict(key))
	assert.False(t, store.Evict(key))
	assert.True(t, sub.Closed())

	fetcher.unblock(t)
	require.Eventually(t, func() bool {
		return store.Stats().Discarded == 1
	}, waitTimeout, 5*time.Millisecond)

	_, ok := store.Snapshot(key)
	assert.False(t, ok)
	for _, e := range r.all() {
		assert.NotEqual(t, StatusSuccess, e.Status)
	}
	assert.Equal(t, int64(1), store.Stats().Evictions)
}

func TestStore_ResubscribeAfterEvictHitsResultStore(t *testing.T) {
	results, err := cache.NewResultStore(cache.DefaultConfig())
	require.NoError(t, err)

	store := New(WithResultStore(results))
	defer store.Close()

	fetcher := &countingFetcher{respond: func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1"), nil
	}}
	key := usersKey("Faculty", 1)

	r := newRecorder()
	_, err = store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	r.waitStatus(t, StatusSuccess)

	require.True(t, store.Evict(key))

	r2 := newRecorder()
	sub2, err := store.Subscribe(key, fetcher.fetch, r2.listen)
	require.NoError(t, err)
	defer sub2.Close()

	done := r2.waitStatus(t, StatusSuccess)
	assert.Equal(t, []string{"u1"}, done.Data.IDs())
	assert.Equal(t, int32(1), fetcher.calls.Load())

	// invalidation forgets the shared result too
	store.Invalidate(cache.ExactKey(key))
	r2.waitStatus(t, StatusLoading)
	r2.waitStatus(t, StatusSuccess)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestStore_InvalidateReachesEvictedResults(t *testing.T) {
	results, err := cache.NewResultStore(cache.DefaultConfig())
	require.NoError(t, err)

	store := New(WithResultStore(results))
	defer store.Close()

	fetcher := &countingFetcher{respond: func(call int32, _ cache.Key) (*cache.ResultPage, error) {
		if call == 1 {
			return pageOf(10, "u1", "u2"), nil
		}
		return pageOf(10, "u2"), nil
	}}
	key := usersKey("Faculty", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	r.waitStatus(t, StatusSuccess)
	sub.Close()
	require.True(t, store.Evict(key))

	// nothing in memory matches, the parked result is still dropped
	assert.Equal(t, 0, store.Invalidate(cache.ForKind(cache.KindUsers)))

	r2 := newRecorder()
	sub2, err := store.Subscribe(key, fetcher.fetch, r2.listen)
	require.NoError(t, err)
	defer sub2.Close()

	done := r2.waitStatus(t, StatusSuccess)
	assert.Equal(t, []string{"u2"}, done.Data.IDs())
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestStore_EvictedFetchLandingAfterInvalidate(t *testing.T) {
	tests := []struct {
		name  string
		stale func(store *Store, key cache.Key)
	}{
		{
			name: "evict then invalidate",
			stale: func(store *Store, key cache.Key) {
				require.True(t, store.Evict(key))
				store.Invalidate(cache.ForKind(cache.KindUsers))
			},
		},
		{
			name: "clear",
			stale: func(store *Store, key cache.Key) {
				store.Clear()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := cache.NewResultStore(cache.DefaultConfig())
			require.NoError(t, err)

			store := New(WithResultStore(results))
			defer store.Close()

			fetcher := newGatedFetcher(func(call int32, _ cache.Key) (*cache.ResultPage, error) {
				if call == 1 {
					return pageOf(10, "u1", "u2"), nil
				}
				return pageOf(10, "u2"), nil
			})
			key := usersKey("Faculty", 1)

			sub, err := store.Subscribe(key, fetcher.fetch, newRecorder().listen)
			require.NoError(t, err)
			fetcher.waitStarted(t, 1)
			sub.Close()

			tt.stale(store, key)
			fetcher.unblock(t)
			require.Eventually(t, func() bool {
				return store.Stats().Discarded == 1
			}, waitTimeout, 5*time.Millisecond)

			r := newRecorder()
			sub2, err := store.Subscribe(key, fetcher.fetch, r.listen)
			require.NoError(t, err)
			defer sub2.Close()

			fetcher.waitStarted(t, 2)
			fetcher.unblock(t)
			done := r.waitStatus(t, StatusSuccess)
			assert.Equal(t, []string{"u2"}, done.Data.IDs())
			assert.Equal(t, int32(2), fetcher.calls.Load())
		})
	}
}

func TestStore_EvictedFetchWithoutInvalidationStaysShared(t *testing.T) {
	results, err := cache.NewResultStore(cache.DefaultConfig())
	require.NoError(t, err)

	store := New(WithResultStore(results))
	defer store.Close()

	fetcher := newGatedFetcher(func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1"), nil
	})
	key := usersKey("Faculty", 1)

	sub, err := store.Subscribe(key, fetcher.fetch, newRecorder().listen)
	require.NoError(t, err)
	fetcher.waitStarted(t, 1)
	sub.Close()
	require.True(t, store.Evict(key))
	fetcher.unblock(t)
	require.Eventually(t, func() bool {
		return store.Stats().Discarded == 1
	}, waitTimeout, 5*time.Millisecond)

	r := newRecorder()
	sub2, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub2.Close()

	done := r.waitStatus(t, StatusSuccess)
	assert.Equal(t, []string{"u1"}, done.Data.IDs())
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestStore_InvalidateInFlightWithResultStore(t *testing.T) {
	results, err := cache.NewResultStore(cache.DefaultConfig())
	require.NoError(t, err)

	store := New(WithResultStore(results))
	defer store.Close()

	fetcher := newGatedFetcher(func(call int32, _ cache.Key) (*cache.ResultPage, error) {
		if call == 1 {
			return pageOf(10, "stale"), nil
		}
		return pageOf(10, "fresh"), nil
	})
	key := usersKey("Faculty", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub.Close()

	fetcher.waitStarted(t, 1)
	store.Invalidate(cache.ExactKey(key))
	fetcher.unblock(t)
	fetcher.waitStarted(t, 2)
	fetcher.unblock(t)

	done := r.waitStatus(t, StatusSuccess)
	assert.Equal(t, []string{"fresh"}, done.Data.IDs())
}

func TestStore_VersionsIncreasePerSubscriber(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := &countingFetcher{respond: func(call int32, _ cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1"), nil
	}}
	key := usersKey("All", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub.Close()
	r.waitStatus(t, StatusSuccess)

	for i := 0; i < 5; i++ {
		store.Refetch(key)
	}
	require.Eventually(t, func() bool {
		e, ok := store.Snapshot(key)
		return ok && e.Status == StatusSuccess
	}, waitTimeout, 5*time.Millisecond)

	snaps := r.all()
	for i := 1; i < len(snaps); i++ {
		assert.Greater(t, snaps[i].Version, snaps[i-1].Version)
	}
}

func TestStore_ListenerMayReenterStore(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := &countingFetcher{respond: func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1"), nil
	}}
	key := usersKey("All", 1)
	other := usersKey("Faculty", 1)

	done := make(chan Entry, 1)
	var self atomic.Pointer[Subscription]
	listener := func(e Entry) {
		_, _ = store.Snapshot(e.Key)
		if e.Status != StatusSuccess {
			return
		}
		// subscribing and unsubscribing from inside a listener must not deadlock
		inner, err := store.Subscribe(other, fetcher.fetch, func(Entry) {})
		if err == nil {
			inner.Close()
		}
		store.Invalidate(cache.ExactKey(other))
		if sub := self.Load(); sub != nil {
			sub.Close()
		}
		done <- e
	}

	sub, err := store.Subscribe(key, fetcher.fetch, listener)
	require.NoError(t, err)
	self.Store(sub)

	select {
	case e := <-done:
		assert.Equal(t, StatusSuccess, e.Status)
	case <-time.After(waitTimeout):
		t.Fatal("listener never completed")
	}
}

func TestStore_StaleTimeRevalidates(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := New(WithStaleTime(time.Minute), WithClock(clock.Now))
	defer store.Close()

	fetcher := &countingFetcher{respond: func(call int32, _ cache.Key) (*cache.ResultPage, error) {
		if call == 1 {
			return pageOf(10, "u1"), nil
		}
		return pageOf(10, "u1", "u2"), nil
	}}
	key := usersKey("All", 1)

	r := newRecorder()
	sub, err := store.Subscribe(key, fetcher.fetch, r.listen)
	require.NoError(t, err)
	defer sub.Close()
	r.waitStatus(t, StatusSuccess)

	clock.Advance(30 * time.Second)
	r2 := newRecorder()
	sub2, err := store.Subscribe(key, fetcher.fetch, r2.listen)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, r2.waitFor(t, func(Entry) bool { return true }).Status)
	sub2.Close()
	assert.Equal(t, int32(1), fetcher.calls.Load())

	clock.Advance(time.Minute)
	r3 := newRecorder()
	sub3, err := store.Subscribe(key, fetcher.fetch, r3.listen)
	require.NoError(t, err)
	defer sub3.Close()

	revalidating := r3.waitFor(t, func(Entry) bool { return true })
	assert.Equal(t, StatusLoading, revalidating.Status)
	assert.Equal(t, []string{"u1"}, revalidating.Data.IDs())

	done := r3.waitStatus(t, StatusSuccess)
	assert.Equal(t, []string{"u1", "u2"}, done.Data.IDs())
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestStore_FetchPanicBecomesError(t *testing.T) {
	store := New()
	defer store.Close()

	r := newRecorder()
	sub, err := store.Subscribe(usersKey("All", 1), func(context.Context, cache.Key) (*cache.ResultPage, error) {
		panic("boom")
	}, r.listen)
	require.NoError(t, err)
	defer sub.Close()

	failed := r.waitStatus(t, StatusError)
	assert.Contains(t, failed.Err.Error(), "boom")
}

func TestStore_NilPageIsEmptySuccess(t *testing.T) {
	store := New()
	defer store.Close()

	r := newRecorder()
	sub, err := store.Subscribe(usersKey("All", 1), func(context.Context, cache.Key) (*cache.ResultPage, error) {
		return nil, nil
	}, r.listen)
	require.NoError(t, err)
	defer sub.Close()

	done := r.waitStatus(t, StatusSuccess)
	require.NotNil(t, done.Data)
	assert.Empty(t, done.Data.Items)
	assert.False(t, done.Data.HasMore())
}

func TestStore_SubscribeValidation(t *testing.T) {
	store := New()

	noop := func(context.Context, cache.Key) (*cache.ResultPage, error) { return nil, nil }

	_, err := store.Subscribe(cache.Key{}, noop, nil)
	var invalid *cache.InvalidParamError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "key", invalid.Field)

	_, err = store.Subscribe(usersKey("All", 1), nil, nil)
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "fetch", invalid.Field)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	_, err = store.Subscribe(usersKey("All", 1), noop, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, store.Invalidate(cache.ForKind("users")))
}

func TestStore_CloseCancelsInFlightFetch(t *testing.T) {
	store := New()

	started := make(chan struct{})
	sub, err := store.Subscribe(usersKey("All", 1), func(ctx context.Context, _ cache.Key) (*cache.ResultPage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)
	require.NoError(t, err)

	<-started
	require.NoError(t, store.Close())
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, store.Len())
}

func TestStore_ClearDetachesEverything(t *testing.T) {
	store := New()
	defer store.Close()

	fetcher := &countingFetcher{respond: func(int32, cache.Key) (*cache.ResultPage, error) {
		return pageOf(10, "u1"), nil
	}}
	r := newRecorder()
	sub, err := store.Subscribe(usersKey("All", 1), fetcher.fetch, r.listen)
	require.NoError(t, err)
	r.waitStatus(t, StatusSuccess)

	store.Clear()
	assert.True(t, sub.Closed())
	assert.Empty(t, store.Keys())
}
