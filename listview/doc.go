// Package listview composes the filter, pager and selection controllers with
// a live query cache subscription into one list screen.
//
// A View follows the key its filter points at. Changing search or category
// resets the page and, on selectable screens, empties the selection before any
// render sees the new filter. Renders always pair a filter state with the
// entry requested for it.
//
//	v, err := listview.New(store, client.Fetch, listview.EnrollPicker())
//	if err != nil {
//		return err
//	}
//	defer v.Close()
//	v.OnRender(func(s listview.Snapshot) { draw(s) })
package listview
