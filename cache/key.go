package cache

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// Key identifies one page of a filtered remote query.
//
// Keys are comparable and safe to use as map keys. Two keys built from the same
// kind, the same set of filter pairs and the same page are always equal, no
// matter the order the filter map was populated in.
type Key struct {
	kind   string
	params string
	page   int
}

// BuildKey derives the canonical key for (kind, params, page).
// It fails with an *InvalidParamError when kind is blank or page < 1.
func BuildKey(kind string, params map[string]string, page int) (Key, error) {
	if strings.TrimSpace(kind) == "" {
		return Key{}, &InvalidParamError{Field: "kind", Message: "cannot be empty"}
	}
	if page < 1 {
		return Key{}, &InvalidParamError{Field: "page", Message: "must be greater than or equal to 1"}
	}

	return Key{
		kind:   kind,
		params: encodeParams(params),
		page:   page,
	}, nil
}

// MustBuildKey is like BuildKey but panics on invalid input.
func MustBuildKey(kind string, params map[string]string, page int) Key {
	key, err := BuildKey(kind, params, page)
	if err != nil {
		panic(err)
	}
	return key
}

// encodeParams sorts keys and escapes both keys and values so distinct
// parameter sets never share an encoding.
func encodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}

// Kind returns the resource kind of the key.
func (k Key) Kind() string { return k.kind }

// Page returns the 1-based page number of the key.
func (k Key) Page() int { return k.page }

// IsZero reports whether k was never built.
func (k Key) IsZero() bool { return k.kind == "" }

// Params returns a fresh copy of the filter parameters.
func (k Key) Params() map[string]string {
	out := map[string]string{}
	if k.params == "" {
		return out
	}
	values, err := url.ParseQuery(k.params)
	if err != nil {
		// encodeParams output always parses
		return out
	}
	for name := range values {
		out[name] = values.Get(name)
	}
	return out
}

// Param returns a single filter value and whether it was present.
func (k Key) Param(name string) (string, bool) {
	v, ok := k.Params()[name]
	return v, ok
}

// WithPage returns the same query pointed at another page.
func (k Key) WithPage(page int) (Key, error) {
	if page < 1 {
		return Key{}, &InvalidParamError{Field: "page", Message: "must be greater than or equal to 1"}
	}
	k.page = page
	return k, nil
}

// String renders the key as kind::params::page. The kind segment is escaped so
// the rendering stays unambiguous.
func (k Key) String() string {
	return strings.Join([]string{
		url.QueryEscape(k.kind),
		k.params,
		strconv.Itoa(k.page),
	}, KeySeparator)
}

// Hash returns a 64 bit digest of the canonical rendering.
func (k Key) Hash() uint64 {
	return xxhash.Sum64String(k.String())
}

// KeyPredicate selects keys, used for invalidation.
type KeyPredicate func(Key) bool

// ForKind matches every page and filter combination of a resource kind.
func ForKind(kind string) KeyPredicate {
	return func(k Key) bool {
		return k.kind == kind
	}
}

// ForKindParam matches keys of kind whose filter param name equals value.
func ForKindParam(kind, name, value string) KeyPredicate {
	return func(k Key) bool {
		if k.kind != kind {
			return false
		}
		v, ok := k.Param(name)
		return ok && v == value
	}
}

// ExactKey matches a single key.
func ExactKey(key Key) KeyPredicate {
	return func(k Key) bool {
		return k == key
	}
}

// AnyOf matches keys accepted by at least one predicate.
func AnyOf(preds ...KeyPredicate) KeyPredicate {
	return func(k Key) bool {
		for _, p := range preds {
			if p != nil && p(k) {
				return true
			}
		}
		return false
	}
}
