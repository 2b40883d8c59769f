// Package querycache holds the in-memory entries behind every paginated query
// a consumer renders.
//
// # Overview
//
// A Store maps a cache.Key to an entry that is idle, loading, successful or
// failed. Consumers Subscribe to a key with the function that fetches it and a
// listener. The store guarantees:
//
//   - at most one fetch per key is in flight
//   - a successful entry is served from memory to later subscribers
//   - a failed entry keeps its last good page and is retried only through
//     Refetch or Invalidate
//   - a response for an entry that was invalidated, evicted or cleared while
//     the fetch ran is never published
//
// # Basic usage
//
//	store := querycache.New(querycache.WithLogger(logger))
//	defer store.Close()
//
//	key := cache.MustBuildKey("users", map[string]string{"role": "Faculty"}, 1)
//	sub, err := store.Subscribe(key, source.Fetch, func(e querycache.Entry) {
//		render(e)
//	})
//	defer sub.Close()
//
// # Invalidation
//
// Invalidate takes a cache.KeyPredicate. Matching entries with subscribers
// refetch once while keeping their data; unwatched ones are dropped.
//
//	store.Invalidate(cache.ForKind("users"))
//
// # Result store
//
// WithResultStore layers a cache.ResultStore, normally the sturdyc backed one
// from cache.NewResultStore, under the entries. Evicted keys resubscribed
// within its TTL are served without a remote call.
package querycache
