package cache

import "context"

// FetchFn is the function signature ResultStore expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// ResultStore is the second-level store fetched results pass through. It
// deduplicates concurrent fetches for the same key and bounds how many results
// are kept. It is exported so other packages can provide alternate backends.
type ResultStore interface {
	GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error)
	Delete(ctx context.Context, key string) error
}

// GetOrFetch is a type-safe wrapper around ResultStore.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, store ResultStore, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T
	result, err := store.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, ErrInvalidResultType
	}
	return typed, nil
}
