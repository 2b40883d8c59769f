package querycache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goliatone/go-query-cache/querycache"

type instruments struct {
	tracer        trace.Tracer
	fetchCount    metric.Int64Counter
	fetchDuration metric.Float64Histogram
	invalidations metric.Int64Counter
}

func (s *Store) initTelemetry() {
	s.telemetry.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	s.telemetry.fetchCount, err = meter.Int64Counter(
		"querycache.fetch.count",
		metric.WithDescription("Completed fetches by kind and outcome"),
	)
	if err != nil {
		s.logger.Warn("querycache: fetch counter unavailable", "error", err)
	}

	s.telemetry.fetchDuration, err = meter.Float64Histogram(
		"querycache.fetch.duration",
		metric.WithDescription("Fetch duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		s.logger.Warn("querycache: fetch histogram unavailable", "error", err)
	}

	s.telemetry.invalidations, err = meter.Int64Counter(
		"querycache.invalidation.count",
		metric.WithDescription("Entries matched by invalidation"),
	)
	if err != nil {
		s.logger.Warn("querycache: invalidation counter unavailable", "error", err)
	}
}

func (s *Store) startFetchSpan(ctx context.Context, kind, key string) (context.Context, trace.Span) {
	return s.telemetry.tracer.Start(ctx, "querycache.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("querycache.kind", kind),
			attribute.String("querycache.key", key),
		),
	)
}

func (s *Store) recordFetch(ctx context.Context, span trace.Span, kind string, took time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	if s.telemetry.fetchCount != nil {
		s.telemetry.fetchCount.Add(ctx, 1, attrs)
	}
	if s.telemetry.fetchDuration != nil {
		s.telemetry.fetchDuration.Record(ctx, float64(took)/float64(time.Millisecond), attrs)
	}
}

func (s *Store) recordInvalidations(n int) {
	if n == 0 || s.telemetry.invalidations == nil {
		return
	}
	s.telemetry.invalidations.Add(context.Background(), int64(n))
}
