package controller

import "sync"

// Selection is a set of record IDs chosen under one category. Any category
// transition empties it; paging and refetching do not.
type Selection struct {
	mu       sync.RWMutex
	category string
	ids      map[string]struct{}
	order    []string
}

// NewSelection creates an empty selection scoped to category.
func NewSelection(category string) *Selection {
	return &Selection{
		category: category,
		ids:      make(map[string]struct{}),
	}
}

// Toggle adds id when absent and removes it when present. It returns whether
// id is selected afterwards. Empty IDs are ignored.
func (s *Selection) Toggle(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
}

// Reset empties the selection when a picker opens.
func (s *Selection) Reset() { s.Clear() }

func (s *Selection) clearLocked() {
	if len(s.ids) == 0 {
		return
	}
	s.ids = make(map[string]struct{})
	s.order = nil
}

func (s *Selection) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Selected returns the IDs in the order they were selected.
func (s *Selection) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Selection) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Selection) Category() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.category
}

// Observe applies a filter change: any category transition clears the set and
// rescopes it to the new category.
func (s *Selection) Observe(change FilterChange) {
	if !change.CategoryChanged && change.Prev.Category == change.Next.Category {
		return
	}
	s.mu.Lock()
	s.clearLocked()
	s.category = change.Next.Category
	s.mu.Unlock()
}

// Bind clears the selection on every category transition of f. Bind before
// registering render listeners so they never read a stale selection.
func (s *Selection) Bind(f *Filter) (unbind func()) {
	return f.OnChange(s.Observe)
}
