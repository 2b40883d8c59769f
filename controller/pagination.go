package controller

import "github.com/goliatone/go-query-cache/cache"

// Pager drives the page field of a Filter from the page currently shown.
type Pager struct {
	filter *Filter
}

// NewPager binds a pager to f.
func NewPager(f *Filter) *Pager {
	return &Pager{filter: f}
}

// Page returns the current page.
func (p *Pager) Page() int {
	return p.filter.State().Page
}

// CanNext reports whether result, the page currently shown, has a successor.
// A nil result means the page is still loading.
func (p *Pager) CanNext(result *cache.ResultPage) bool {
	return result.HasMore()
}

// CanPrev reports whether the current page is past the first.
func (p *Pager) CanPrev() bool {
	return p.filter.State().Page > 1
}

// Next advances one page when result reports more items. A result that says
// which page it is for only advances from that page, so a repeated request
// made before the next page loads is ignored.
func (p *Pager) Next(result *cache.ResultPage) bool {
	if !p.CanNext(result) {
		return false
	}
	moved := false
	p.filter.Update(func(tx *FilterTx) {
		cur := tx.State().Page
		if result.Page > 0 && result.Page != cur {
			return
		}
		moved = tx.SetPage(cur + 1)
	})
	return moved
}

// Prev goes back one page. It is a no-op on page 1.
func (p *Pager) Prev() bool {
	moved := false
	p.filter.Update(func(tx *FilterTx) {
		cur := tx.State().Page
		if cur <= 1 {
			return
		}
		moved = tx.SetPage(cur - 1)
	})
	return moved
}
