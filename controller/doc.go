// Package controller holds the interaction state of a list screen: the filter
// bar (search, category, page), the pager and the selection set. The types are
// plain state machines with synchronous listeners and know nothing about
// fetching.
package controller
