package listview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/fakeapi"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/querycache"
)

func newStore(t *testing.T) *querycache.Store {
	t.Helper()
	store := querycache.New()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func open(t *testing.T, fetch querycache.FetchFunc, preset Preset, opts ...Option) *View {
	t.Helper()
	v, err := New(newStore(t), fetch, preset, opts...)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

// settle waits until the view shows a loaded page.
func settle(t *testing.T, v *View, page int) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = v.Snapshot()
		return snap.Filter.Page == page &&
			snap.Entry.Key.Page() == page &&
			(snap.Entry.Status == querycache.StatusSuccess || snap.Entry.Status == querycache.StatusError)
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestView_FacultyPaging(t *testing.T) {
	dir := testsupport.Roster(t)
	v := open(t, dir.Fetch, EnrollPicker())

	first := settle(t, v, 1)
	assert.Equal(t, "Faculty", first.Filter.Category)
	assert.Len(t, first.Items(), 10)
	assert.True(t, first.CanNext)
	assert.False(t, first.CanPrev)

	require.True(t, v.Next())
	loading := v.Snapshot()
	assert.Equal(t, 2, loading.Filter.Page)
	assert.False(t, loading.CanNext, "next stays disabled while the page loads")

	second := settle(t, v, 2)
	assert.Len(t, second.Items(), 4)
	assert.False(t, second.CanNext)
	assert.True(t, second.CanPrev)

	assert.False(t, v.Next())
	assert.Equal(t, 2, v.Filter().State().Page)

	require.True(t, v.Prev())
	back := v.Snapshot()
	assert.Equal(t, querycache.StatusSuccess, back.Entry.Status, "page 1 is served from memory")
	assert.Len(t, back.Items(), 10)
}

func TestView_SelectionFollowsCategory(t *testing.T) {
	dir := testsupport.Roster(t)
	v := open(t, dir.Fetch, EnrollPicker())
	settle(t, v, 1)

	assert.True(t, v.Toggle("f01"))
	assert.True(t, v.Toggle("f02"))
	require.True(t, v.Next())
	settle(t, v, 2)
	assert.True(t, v.Toggle("f12"))
	assert.Equal(t, []string{"f01", "f02", "f12"}, v.Snapshot().Selected, "selection survives paging")

	v.Filter().SetCategory("Student")
	snap := settle(t, v, 1)
	assert.Empty(t, snap.Selected)
	assert.Equal(t, "Student", v.Selection().Category())
	assert.Equal(t, []string{"s01", "s02", "s03", "s04", "s05", "s06"}, snap.Entry.Data.IDs())

	v.Toggle("s01")
	v.Open()
	selected, err := v.Selected()
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestView_SearchResetsPage(t *testing.T) {
	dir := testsupport.Roster(t)
	v := open(t, dir.Fetch, UserDirectory())
	settle(t, v, 1)
	require.True(t, v.Next())
	settle(t, v, 2)

	v.Filter().SetSearch("hopper")
	snap := settle(t, v, 1)
	search, ok := v.Key().Param(cache.ParamSearch)
	assert.True(t, ok)
	assert.Equal(t, "hopper", search)
	assert.Equal(t, []string{"f03"}, snap.Entry.Data.IDs())

	_, err := v.Selected()
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Nil(t, snap.Selected)
}

func TestView_IgnoresSupersededKeys(t *testing.T) {
	dir := testsupport.Roster(t)
	gated := testsupport.Gated(dir.Fetch)
	v := open(t, gated.Fetch, UserDirectory())

	gated.WaitStarted(t)
	v.Filter().SetCategory("Student")
	gated.WaitStarted(t)

	gated.Release(2)
	snap := settle(t, v, 1)
	role, _ := snap.Entry.Key.Param(cache.ParamRole)
	assert.Equal(t, "Student", role)

	// the late All page must not replace the Student page
	time.Sleep(20 * time.Millisecond)
	snap = v.Snapshot()
	assert.Equal(t, []string{"s01", "s02", "s03", "s04", "s05", "s06"}, snap.Entry.Data.IDs())
}

func TestView_RetryAfterError(t *testing.T) {
	dir := testsupport.Roster(t)
	boom := errors.New("gateway timeout")
	v := open(t, testsupport.FailFirst(1, boom, dir.Fetch), UserDirectory())

	failed := settle(t, v, 1)
	require.Equal(t, querycache.StatusError, failed.Entry.Status)
	assert.ErrorIs(t, failed.Entry.Err, boom)
	assert.False(t, failed.CanNext)

	require.True(t, v.Retry())
	require.Eventually(t, func() bool {
		return v.Snapshot().Entry.Status == querycache.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, v.Snapshot().Items(), 10)
}

func TestView_RetryAfterEvict(t *testing.T) {
	dir := testsupport.Roster(t)
	counting := testsupport.Counting(dir.Fetch)
	store := newStore(t)
	v, err := New(store, counting.Fetch, UserDirectory(), WithCategory("Faculty"))
	require.NoError(t, err)
	t.Cleanup(v.Close)

	settle(t, v, 1)
	require.True(t, store.Evict(v.Key()))

	_, err = dir.DeleteUser("f01")
	require.NoError(t, err)

	require.True(t, v.Retry())
	require.Eventually(t, func() bool {
		snap := v.Snapshot()
		return snap.Entry.Status == querycache.StatusSuccess && !snap.Entry.Data.Contains("f01")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, counting.Calls())

	// the view is live again
	_, err = dir.DeleteUser("f02")
	require.NoError(t, err)
	require.True(t, v.Retry())
	require.Eventually(t, func() bool {
		snap := v.Snapshot()
		return snap.Entry.Status == querycache.StatusSuccess && !snap.Entry.Data.Contains("f02")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestView_RenderSnapshotsAreConsistent(t *testing.T) {
	dir := testsupport.Roster(t)
	v := open(t, dir.Fetch, EnrollPicker())

	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	remove := v.OnRender(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	settle(t, v, 1)
	v.Toggle("f01")
	v.Filter().SetCategory("Student")
	settle(t, v, 1)
	remove()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)
	for _, s := range snaps {
		if s.Entry.Key.IsZero() {
			continue
		}
		role, _ := s.Entry.Key.Param(cache.ParamRole)
		assert.Equal(t, s.Filter.Category, role, "a render never pairs a filter with another filter's page")
		if s.Filter.Category == "Student" {
			assert.Empty(t, s.Selected)
		}
	}
}

func TestView_CourseMembers(t *testing.T) {
	dir := testsupport.Roster(t)
	v := open(t, dir.Fetch, CourseMembers("c1"))

	snap := settle(t, v, 1)
	assert.Equal(t, []string{"f01", "f02"}, snap.Entry.Data.IDs())

	v.Filter().SetCategory("student")
	snap = settle(t, v, 1)
	assert.Equal(t, []string{"s01", "s02", "s03", "s04"}, snap.Entry.Data.IDs())

	missing := open(t, dir.Fetch, CourseMembers("c9"))
	failed := settle(t, missing, 1)
	assert.Equal(t, querycache.StatusError, failed.Entry.Status)
	assert.ErrorIs(t, failed.Entry.Err, fakeapi.ErrNotFound)
}

func TestView_Close(t *testing.T) {
	dir := testsupport.Roster(t)
	store := newStore(t)
	counting := testsupport.Counting(dir.Fetch)
	v, err := New(store, counting.Fetch, UserDirectory())
	require.NoError(t, err)
	settle(t, v, 1)

	v.Close()
	v.Close()
	v.Filter().SetCategory("Student")
	assert.Equal(t, 1, counting.Calls(), "a closed view stops following the filter")

	_, ok := store.Snapshot(v.Key())
	assert.True(t, ok, "entries outlive the view")
}

func TestNew_Validation(t *testing.T) {
	dir := testsupport.Roster(t)
	store := newStore(t)

	_, err := New(nil, dir.Fetch, UserDirectory())
	assert.Error(t, err)
	_, err = New(store, nil, UserDirectory())
	assert.Error(t, err)

	_, err = New(store, dir.Fetch, CourseMembers(""))
	var invalid *cache.InvalidParamError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, cache.ParamCourseID, invalid.Field)

	_ = store.Close()
	_, err = New(store, dir.Fetch, UserDirectory())
	assert.ErrorIs(t, err, querycache.ErrClosed)
}

func TestView_WithOptions(t *testing.T) {
	dir := testsupport.Roster(t)
	v := open(t, dir.Fetch, UserDirectory(), WithCategory("Student"), WithSearch("mei"))

	snap := settle(t, v, 1)
	assert.Equal(t, []string{"s03"}, snap.Entry.Data.IDs())

	_, err := dir.Fetch(context.Background(), v.Key())
	require.NoError(t, err)
}
