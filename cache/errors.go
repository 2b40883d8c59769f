package cache

import (
	"errors"
	"fmt"
)

// ErrInvalidResultType is returned by GetOrFetch when the result store hands
// back a value of a different type than requested.
var ErrInvalidResultType = errors.New("cache: invalid result type")

// InvalidParamError reports malformed input to key construction or a mutation
// payload. It indicates a caller bug and is never retried.
type InvalidParamError struct {
	Field   string
	Message string
	Err     error
}

func (e *InvalidParamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid param %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid param %s: %s", e.Field, e.Message)
}

func (e *InvalidParamError) Unwrap() error { return e.Err }

// FetchError records a failed remote query on a cache entry.
type FetchError struct {
	Key Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError reports a failed remote write. No cache state changes when it
// is returned.
type MutationError struct {
	Action string
	Kind   string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation %s %s: %v", e.Action, e.Kind, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
