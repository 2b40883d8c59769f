package mutation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/querycache"
)

func waitLoaded(t *testing.T, store *querycache.Store, key cache.Key, after uint64) querycache.Entry {
	t.Helper()
	var got querycache.Entry
	require.Eventually(t, func() bool {
		e, ok := store.Snapshot(key)
		if !ok || e.Status != querycache.StatusSuccess || e.Version <= after {
			return false
		}
		got = e
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestDeleteRefetchesWatchedPages(t *testing.T) {
	dir := testsupport.Roster(t)
	store := querycache.New()
	t.Cleanup(func() { _ = store.Close() })

	faculty := cache.MustBuildKey(cache.KindUsers, map[string]string{cache.ParamRole: "Faculty"}, 1)
	students := cache.MustBuildKey(cache.KindUsers, map[string]string{cache.ParamRole: "Student"}, 1)

	sub, err := store.Subscribe(faculty, dir.Fetch, func(querycache.Entry) {})
	require.NoError(t, err)
	defer sub.Close()

	before := waitLoaded(t, store, faculty, 0)
	require.True(t, before.Data.Contains("f01"))

	// loaded then abandoned, so it is dropped rather than refetched
	other, err := store.Subscribe(students, dir.Fetch, nil)
	require.NoError(t, err)
	waitLoaded(t, store, students, 0)
	other.Close()

	d := mutation.New(store, dir.Mutate)
	_, err = d.Perform(context.Background(), mutation.ActionDelete, mutation.Payload{Kind: cache.KindUsers, ID: "f01"})
	require.NoError(t, err)

	after := waitLoaded(t, store, faculty, before.Version)
	assert.False(t, after.Data.Contains("f01"))
	assert.Len(t, after.Data.Items, cache.DefaultPageSize, "f11 moves up onto the first page")

	_, ok := store.Snapshot(students)
	assert.False(t, ok)
}

func TestEnrollRefetchesCourseViews(t *testing.T) {
	dir := testsupport.Roster(t)
	store := querycache.New()
	t.Cleanup(func() { _ = store.Close() })

	members := cache.MustBuildKey(cache.KindCourseMembers, map[string]string{
		cache.ParamCourseID:   "c2",
		cache.ParamMemberType: mutation.MemberStudent,
	}, 1)
	course, err := cache.CourseKey("c2")
	require.NoError(t, err)

	for _, key := range []cache.Key{members, course} {
		sub, err := store.Subscribe(key, dir.Fetch, nil)
		require.NoError(t, err)
		defer sub.Close()
	}
	m0 := waitLoaded(t, store, members, 0)
	c0 := waitLoaded(t, store, course, 0)
	require.Equal(t, []string{"s05"}, m0.Data.IDs())

	d := mutation.New(store, dir.Mutate)
	_, err = d.Perform(context.Background(), mutation.ActionEnroll, mutation.Payload{
		CourseID:   "c2",
		MemberType: mutation.MemberStudent,
		UserIDs:    []string{"s01", "s02"},
	})
	require.NoError(t, err)

	m1 := waitLoaded(t, store, members, m0.Version)
	assert.Equal(t, []string{"s05", "s01", "s02"}, m1.Data.IDs())
	c1 := waitLoaded(t, store, course, c0.Version)
	assert.Equal(t, 3, c1.Data.Items[0].Field("numberOfStudents"))
}

func TestFailedWriteLeavesCacheAlone(t *testing.T) {
	dir := testsupport.Roster(t)
	store := querycache.New()
	t.Cleanup(func() { _ = store.Close() })

	key := cache.MustBuildKey(cache.KindUsers, nil, 1)
	sub, err := store.Subscribe(key, dir.Fetch, nil)
	require.NoError(t, err)
	defer sub.Close()
	before := waitLoaded(t, store, key, 0)

	d := mutation.New(store, dir.Mutate)
	_, err = d.Perform(context.Background(), mutation.ActionDelete, mutation.Payload{Kind: cache.KindUsers, ID: "ghost"})
	require.Error(t, err)

	e, ok := store.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, before.Version, e.Version)
	assert.Equal(t, querycache.StatusSuccess, e.Status)
}
