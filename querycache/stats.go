package querycache

import "github.com/puzpuzpuz/xsync/v3"

// Stats is a point-in-time copy of the store counters.
type Stats struct {
	// Fetches counts fetch functions started by the store. With a result store
	// configured some of them are served without a remote call.
	Fetches       int64
	Hits          int64
	Joins         int64
	Discarded     int64
	Invalidations int64
	Evictions     int64
	Entries       int
}

type counters struct {
	fetches       *xsync.Counter
	hits          *xsync.Counter
	joins         *xsync.Counter
	discarded     *xsync.Counter
	invalidations *xsync.Counter
	evictions     *xsync.Counter
}

func newCounters() *counters {
	return &counters{
		fetches:       xsync.NewCounter(),
		hits:          xsync.NewCounter(),
		joins:         xsync.NewCounter(),
		discarded:     xsync.NewCounter(),
		invalidations: xsync.NewCounter(),
		evictions:     xsync.NewCounter(),
	}
}

func (c *counters) snapshot(entries int) Stats {
	return Stats{
		Fetches:       c.fetches.Value(),
		Hits:          c.hits.Value(),
		Joins:         c.joins.Value(),
		Discarded:     c.discarded.Value(),
		Invalidations: c.invalidations.Value(),
		Evictions:     c.evictions.Value(),
		Entries:       entries,
	}
}
