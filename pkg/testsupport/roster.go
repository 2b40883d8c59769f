package testsupport

import (
	_ "embed"
	"encoding/json"
	"testing"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/fakeapi"
)

//go:embed testdata/roster.json
var rosterJSON []byte

// Roster sizes of the embedded fixture.
const (
	RosterFaculty  = 14
	RosterStudents = 6
)

// Roster returns a fresh directory seeded with the embedded roster: 14
// faculty (f01..f14), 6 students (s01..s06) and courses c1 and c2. Pages hold
// cache.DefaultPageSize users.
func Roster(t testing.TB) *fakeapi.Directory {
	t.Helper()

	var snap fakeapi.Snapshot
	if err := json.Unmarshal(rosterJSON, &snap); err != nil {
		t.Fatalf("failed to decode embedded roster: %v", err)
	}
	return fakeapi.NewDirectoryFrom(cache.DefaultPageSize, snap)
}

// LoadDirectory builds a directory from a JSON snapshot fixture.
func LoadDirectory(t testing.TB, path string, pageSize int) *fakeapi.Directory {
	t.Helper()

	var snap fakeapi.Snapshot
	LoadFixtureJSON(t, path, &snap)
	return fakeapi.NewDirectoryFrom(pageSize, snap)
}
