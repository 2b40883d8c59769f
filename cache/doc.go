// Package cache provides query keys, result types, error kinds and the result
// store interface shared by the query cache, the list controllers and the
// mutation dispatcher.
//
// # Overview
//
//   - Key: canonical, comparable identity of one page of a filtered query
//   - ResultPage / Record: what a query function returns
//   - ResultStore: second-level store fetched pages pass through
//   - InvalidParamError, FetchError, MutationError: the error kinds of the layer
//
// # Building keys
//
//	key, err := cache.BuildKey("users", map[string]string{"role": "Faculty", "search": "ann"}, 2)
//
// Filter maps are encoded with sorted, escaped keys, so the insertion order of
// the map never changes the key and two different filter sets never share one.
// BuildKey fails fast with an *InvalidParamError for a blank kind or a page
// lower than 1; those are caller bugs, not runtime conditions.
//
// # Selecting keys
//
// Invalidation works on predicates rather than prefixes:
//
//	store.Invalidate(cache.ForKind("users"))
//	store.Invalidate(cache.ForKindParam("course-members", "courseId", "c1"))
//
// # Result store
//
// NewResultStore returns the sturdyc-backed implementation. It deduplicates
// concurrent fetches for the same key and keeps at most Capacity pages for TTL.
// Errors returned by a fetch are never stored.
//
// # See Also
//
// The querycache package holds the subscribable first-level cache built on top
// of these types; the mutation package invalidates it after writes.
package cache
