package querycache

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-query-cache/cache"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResultStore places a shared result store between the entries and the
// remote. Concurrent fetches of one key collapse into a single remote call and
// results outlive evicted entries for the store's TTL.
func WithResultStore(results cache.ResultStore) Option {
	return func(s *Store) {
		s.results = results
	}
}

// WithStaleTime revalidates a successful entry in the background when a new
// subscriber arrives after d has passed since the last fetch. Zero disables
// revalidation.
func WithStaleTime(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleTime = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracerProvider sets the provider used for fetch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		if tp != nil {
			s.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the provider used for fetch and invalidation metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) {
		if mp != nil {
			s.meterProvider = mp
		}
	}
}
