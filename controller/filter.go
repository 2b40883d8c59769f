package controller

import "sync"

// FilterState is the observable state of a list screen's filter bar.
type FilterState struct {
	Search   string
	Category string
	Page     int
}

// FilterChange is delivered once per committed update.
type FilterChange struct {
	Prev FilterState
	Next FilterState
	// CategoryChanged is true when the category moved at any point inside the
	// update, even if it ended where it started.
	CategoryChanged bool
}

// PageOnly reports whether only the page moved.
func (c FilterChange) PageOnly() bool {
	return !c.CategoryChanged &&
		c.Prev.Search == c.Next.Search &&
		c.Prev.Category == c.Next.Category &&
		c.Prev.Page != c.Next.Page
}

// FilterListener observes committed filter changes.
type FilterListener func(FilterChange)

// Filter holds search, category and page. Changing search or category moves
// the page back to 1 in the same update, so no listener ever observes a new
// filter with an old page.
type Filter struct {
	mu        sync.Mutex
	state     FilterState
	listeners []listenerSlot
	nextID    int

	// notifications are delivered in commit order by one goroutine at a time
	queue      []FilterChange
	notifying  bool
	deliveryMu sync.Mutex
}

type listenerSlot struct {
	id int
	fn FilterListener
}

// NewFilter creates a filter starting at initial. A page below 1 becomes 1.
func NewFilter(initial FilterState) *Filter {
	if initial.Page < 1 {
		initial.Page = 1
	}
	return &Filter{state: initial}
}

// State returns the committed state.
func (f *Filter) State() FilterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetSearch sets the search text and resets the page to 1.
func (f *Filter) SetSearch(q string) {
	f.Update(func(tx *FilterTx) { tx.SetSearch(q) })
}

// SetCategory sets the category and resets the page to 1.
func (f *Filter) SetCategory(c string) {
	f.Update(func(tx *FilterTx) { tx.SetCategory(c) })
}

// SetPage moves to page n. It returns false and changes nothing for n < 1.
func (f *Filter) SetPage(n int) bool {
	ok := false
	f.Update(func(tx *FilterTx) { ok = tx.SetPage(n) })
	return ok
}

// Update applies several changes as one commit. Listeners see a single
// FilterChange, or none if the state and category did not move. fn must not
// call back into f.
func (f *Filter) Update(fn func(tx *FilterTx)) {
	f.mu.Lock()
	tx := &FilterTx{state: f.state}
	fn(tx)
	change := FilterChange{
		Prev:            f.state,
		Next:            tx.state,
		CategoryChanged: tx.categoryChanged,
	}
	if change.Prev == change.Next && !change.CategoryChanged {
		f.mu.Unlock()
		return
	}
	f.state = tx.state
	f.deliveryMu.Lock()
	f.queue = append(f.queue, change)
	f.deliveryMu.Unlock()
	f.mu.Unlock()

	f.drain()
}

// OnChange registers fn and returns a function removing it. Listeners run in
// registration order.
func (f *Filter) OnChange(fn FilterListener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, listenerSlot{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, l := range f.listeners {
				if l.id == id {
					f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// drain delivers queued changes. A change committed by a listener is handed
// over to the goroutine already draining.
func (f *Filter) drain() {
	f.deliveryMu.Lock()
	if f.notifying {
		f.deliveryMu.Unlock()
		return
	}
	f.notifying = true

	for len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		f.deliveryMu.Unlock()

		f.mu.Lock()
		listeners := append([]listenerSlot(nil), f.listeners...)
		f.mu.Unlock()
		for _, l := range listeners {
			l.fn(next)
		}

		f.deliveryMu.Lock()
	}
	f.notifying = false
	f.deliveryMu.Unlock()
}

// FilterTx is the working copy handed to Update.
type FilterTx struct {
	state           FilterState
	categoryChanged bool
}

// State returns the working state.
func (tx *FilterTx) State() FilterState { return tx.state }

// SetSearch sets the search text and resets the page to 1.
func (tx *FilterTx) SetSearch(q string) {
	tx.state.Search = q
	tx.state.Page = 1
}

// SetCategory sets the category and resets the page to 1.
func (tx *FilterTx) SetCategory(c string) {
	if c != tx.state.Category {
		tx.categoryChanged = true
	}
	tx.state.Category = c
	tx.state.Page = 1
}

// SetPage moves to page n. It returns false for n < 1.
func (tx *FilterTx) SetPage(n int) bool {
	if n < 1 {
		return false
	}
	tx.state.Page = n
	return true
}
