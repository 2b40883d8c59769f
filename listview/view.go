package listview

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/controller"
	"github.com/goliatone/go-query-cache/querycache"
)

// ErrNoSelection is returned by Selected on screens without a selection.
var ErrNoSelection = errors.New("listview: screen has no selection")

// Snapshot is everything a list screen renders.
type Snapshot struct {
	Filter  controller.FilterState
	Entry   querycache.Entry
	CanNext bool
	CanPrev bool
	// Selected is nil on screens without a selection.
	Selected []string
}

// Items returns the records to show, stale ones included while reloading.
func (s Snapshot) Items() []cache.Record {
	if s.Entry.Data == nil {
		return nil
	}
	return s.Entry.Data.Items
}

// RenderFunc receives a snapshot after every state change.
type RenderFunc func(Snapshot)

// Option configures a View.
type Option func(*View)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(v *View) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithSearch starts the view with a search text.
func WithSearch(q string) Option {
	return func(v *View) {
		v.initial.Search = q
	}
}

// WithCategory starts the view on a category other than the preset default.
func WithCategory(c string) Option {
	return func(v *View) {
		v.initial.Category = c
	}
}

// View is one list screen: a filter bar, a pager, an optional selection and
// a live subscription to the page the filter points at. A filter change
// subscribes to the new key and drops the previous subscription.
type View struct {
	preset  Preset
	store   *querycache.Store
	fetch   querycache.FetchFunc
	logger  *slog.Logger
	initial controller.FilterState

	filter    *controller.Filter
	pager     *controller.Pager
	selection *controller.Selection
	unbind    []func()

	mu     sync.Mutex
	state  controller.FilterState
	key    cache.Key
	sub    *querycache.Subscription
	entry  querycache.Entry
	closed bool

	renderMu  sync.Mutex
	renders   map[int]RenderFunc
	renderIDs []int
	nextID    int
	rendering bool
	dirty     bool
}

// New opens a view of preset backed by store, loading pages through fetch.
func New(store *querycache.Store, fetch querycache.FetchFunc, preset Preset, opts ...Option) (*View, error) {
	if store == nil {
		return nil, &cache.InvalidParamError{Field: "store", Message: "cannot be nil"}
	}
	if fetch == nil {
		return nil, &cache.InvalidParamError{Field: "fetch", Message: "cannot be nil"}
	}
	if err := preset.validate(); err != nil {
		return nil, err
	}

	v := &View{
		preset:  preset,
		store:   store,
		fetch:   fetch,
		logger:  slog.New(slog.DiscardHandler),
		initial: controller.FilterState{Category: preset.DefaultCategory, Page: 1},
		renders: make(map[int]RenderFunc),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.filter = controller.NewFilter(v.initial)
	v.pager = controller.NewPager(v.filter)
	if preset.Selectable {
		v.selection = controller.NewSelection(v.initial.Category)
		v.unbind = append(v.unbind, v.selection.Bind(v.filter))
	}
	v.unbind = append(v.unbind, v.filter.OnChange(v.onFilter))

	if err := v.follow(v.filter.State()); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// Filter returns the filter bar.
func (v *View) Filter() *controller.Filter { return v.filter }

// Pager returns the pager.
func (v *View) Pager() *controller.Pager { return v.pager }

// Selection returns the selection, or nil when the preset has none.
func (v *View) Selection() *controller.Selection { return v.selection }

// Key returns the key currently followed.
func (v *View) Key() cache.Key {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}

// Snapshot returns the current render state. Filter is the state the shown
// entry was requested for, so the two always agree.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	state, entry := v.state, v.entry
	v.mu.Unlock()

	snap := Snapshot{
		Filter:  state,
		Entry:   entry,
		CanNext: v.pager.CanNext(entry.Data),
		CanPrev: state.Page > 1,
	}
	if v.selection != nil {
		snap.Selected = v.selection.Selected()
	}
	return snap
}

// OnRender registers fn and returns a function removing it.
func (v *View) OnRender(fn RenderFunc) (remove func()) {
	if fn == nil {
		return func() {}
	}
	v.renderMu.Lock()
	v.nextID++
	id := v.nextID
	v.renders[id] = fn
	v.renderIDs = append(v.renderIDs, id)
	v.renderMu.Unlock()

	return func() {
		v.renderMu.Lock()
		delete(v.renders, id)
		v.renderMu.Unlock()
	}
}

// Next moves to the next page when the page shown reports more rows.
func (v *View) Next() bool {
	v.mu.Lock()
	data := v.entry.Data
	v.mu.Unlock()
	return v.pager.Next(data)
}

// Prev moves to the previous page.
func (v *View) Prev() bool {
	return v.pager.Prev()
}

// Toggle flips id in the selection. It is a no-op without a selection.
func (v *View) Toggle(id string) bool {
	if v.selection == nil {
		return false
	}
	selected := v.selection.Toggle(id)
	v.render()
	return selected
}

// Retry refetches the page shown, typically after an error. A view whose
// entry was evicted from the store subscribes to it again.
func (v *View) Retry() bool {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false
	}
	dead := v.sub != nil && v.sub.Closed()
	state := v.state
	v.mu.Unlock()

	if dead {
		if err := v.follow(state); err != nil {
			v.logger.Warn("listview: resubscribe failed", "view", v.preset.Name, "error", err)
			return false
		}
		return true
	}
	return v.store.Refetch(v.Key())
}

// Open starts a fresh session of the screen: the selection is emptied.
func (v *View) Open() {
	if v.selection != nil {
		v.selection.Reset()
	}
	v.render()
}

// Close drops the subscription and detaches from the filter. The cached
// entries stay in the store.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	for _, fn := range v.unbind {
		fn()
	}
	if sub != nil {
		sub.Close()
	}
}

func (v *View) onFilter(change controller.FilterChange) {
	if err := v.follow(change.Next); err != nil {
		v.logger.Error("listview: follow filter failed",
			"view", v.preset.Name,
			"page", change.Next.Page,
			"error", err,
		)
	}
	v.render()
}

// follow subscribes to the key state points at and releases the previous
// subscription. Deliveries for any other key are ignored from here on.
func (v *View) follow(state controller.FilterState) error {
	key, err := v.preset.key(state.Search, state.Category, state.Page)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.state = state
	if v.sub != nil && !v.sub.Closed() && v.key == key {
		v.mu.Unlock()
		return nil
	}
	v.key = key
	v.entry = querycache.Entry{Key: key, Status: querycache.StatusIdle}
	prev := v.sub
	v.sub = nil
	v.mu.Unlock()

	sub, err := v.store.Subscribe(key, v.fetch, v.onEntry)
	if err != nil {
		if prev != nil {
			prev.Close()
		}
		return err
	}

	v.mu.Lock()
	if v.closed || v.key != key {
		v.mu.Unlock()
		sub.Close()
	} else {
		v.sub = sub
		v.mu.Unlock()
	}
	if prev != nil {
		prev.Close()
	}
	v.logger.Debug("listview: following", "view", v.preset.Name, "key", key.String())
	return nil
}

func (v *View) onEntry(e querycache.Entry) {
	v.mu.Lock()
	if v.closed || e.Key != v.key || e.Version < v.entry.Version {
		v.mu.Unlock()
		return
	}
	v.entry = e
	v.mu.Unlock()
	v.render()
}

// render calls the render functions with the latest snapshot. Calls never
// overlap; a change arriving mid-render triggers one more pass.
func (v *View) render() {
	v.renderMu.Lock()
	v.dirty = true
	if v.rendering {
		v.renderMu.Unlock()
		return
	}
	v.rendering = true

	for v.dirty {
		v.dirty = false
		fns := make([]RenderFunc, 0, len(v.renders))
		live := v.renderIDs[:0]
		for _, id := range v.renderIDs {
			if fn, ok := v.renders[id]; ok {
				fns = append(fns, fn)
				live = append(live, id)
			}
		}
		v.renderIDs = live
		v.renderMu.Unlock()

		snap := v.Snapshot()
		for _, fn := range fns {
			fn(snap)
		}

		v.renderMu.Lock()
	}
	v.rendering = false
	v.renderMu.Unlock()
}

// Selected returns the selected IDs.
func (v *View) Selected() ([]string, error) {
	if v.selection == nil {
		return nil, ErrNoSelection
	}
	return v.selection.Selected(), nil
}
