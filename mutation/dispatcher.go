package mutation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/goliatone/go-query-cache/cache"
)

const instrumentationName = "github.com/goliatone/go-query-cache/mutation"

// ErrNoMutateFunc is returned by Perform when the dispatcher has no remote.
var ErrNoMutateFunc = errors.New("mutation: no mutate function configured")

// MutateFunc performs the remote write and returns the affected record.
type MutateFunc func(ctx context.Context, action Action, payload Payload) (cache.Record, error)

// Invalidator is the part of the query cache a dispatcher writes to.
type Invalidator interface {
	Invalidate(pred cache.KeyPredicate) int
}

// Dispatcher runs writes and invalidates the cached pages they affect.
// Invalidation happens only after the remote reports success.
type Dispatcher struct {
	mutate MutateFunc
	target Invalidator

	categoryParams map[string]string
	catchAll       string
	dependents     map[string][]string

	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	tracerProv    trace.TracerProvider
	performed     metric.Int64Counter
	duration      metric.Float64Histogram
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithCategoryParam declares which key parameter holds the category of kind.
func WithCategoryParam(kind, param string) Option {
	return func(d *Dispatcher) {
		if param == "" {
			delete(d.categoryParams, kind)
			return
		}
		d.categoryParams[kind] = param
	}
}

// WithCatchAll sets the category value that lists every record.
func WithCatchAll(value string) Option {
	return func(d *Dispatcher) {
		if value != "" {
			d.catchAll = value
		}
	}
}

// WithDependents makes writes to kind invalidate the dependent kinds too.
func WithDependents(kind string, dependents ...string) Option {
	return func(d *Dispatcher) {
		d.dependents[kind] = dedupeStrings(append(d.dependents[kind], dependents...))
	}
}

// WithTracerProvider sets the provider used for write spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracerProv = tp
		}
	}
}

// WithMeterProvider sets the provider used for write metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Dispatcher) {
		if mp != nil {
			d.meterProvider = mp
		}
	}
}

// New creates a dispatcher writing through mutate and invalidating target.
// Users are categorized by role and course members by member type unless
// overridden.
func New(target Invalidator, mutate MutateFunc, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		mutate: mutate,
		target: target,
		categoryParams: map[string]string{
			cache.KindUsers:         cache.ParamRole,
			cache.KindCourseMembers: cache.ParamMemberType,
		},
		catchAll:      cache.DefaultCatchAllCategory,
		dependents:    map[string][]string{},
		logger:        slog.New(slog.DiscardHandler),
		tracerProv:    tracenoop.NewTracerProvider(),
		meterProvider: metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.tracer = d.tracerProv.Tracer(instrumentationName)
	meter := d.meterProvider.Meter(instrumentationName)
	var err error
	if d.performed, err = meter.Int64Counter("mutation.count",
		metric.WithDescription("Writes by action and outcome")); err != nil {
		d.logger.Warn("mutation: counter unavailable", "error", err)
	}
	if d.duration, err = meter.Float64Histogram("mutation.duration",
		metric.WithDescription("Write duration"), metric.WithUnit("ms")); err != nil {
		d.logger.Warn("mutation: histogram unavailable", "error", err)
	}
	return d
}

// Perform validates payload, runs the write and, on success, invalidates every
// cached key that could list the written record. A failed write returns a
// *cache.MutationError and leaves the cache untouched.
func (d *Dispatcher) Perform(ctx context.Context, action Action, payload Payload) (cache.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !action.Valid() {
		parsed, err := ParseAction(string(action))
		if err != nil {
			return cache.Record{}, err
		}
		action = parsed
	}
	if action == ActionEnroll && payload.Kind == "" {
		payload.Kind = cache.KindCourseMembers
	}
	if err := payload.Validate(action); err != nil {
		return cache.Record{}, err
	}
	if d.mutate == nil {
		return cache.Record{}, ErrNoMutateFunc
	}

	requestID := uuid.NewString()
	logger := d.logger.With("request_id", requestID, "action", action.String(), "kind", payload.Kind)

	ctx, span := d.tracer.Start(ctx, "mutation.perform",
		trace.WithAttributes(
			attribute.String("mutation.action", action.String()),
			attribute.String("mutation.kind", payload.Kind),
			attribute.String("mutation.request_id", requestID),
		),
	)
	defer span.End()

	started := time.Now()
	rec, err := d.mutate(ctx, action, payload)
	d.record(ctx, action, payload.Kind, time.Since(started), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("mutation: write failed", "error", err)

		var merr *cache.MutationError
		if errors.As(err, &merr) {
			return cache.Record{}, err
		}
		return cache.Record{}, &cache.MutationError{Action: action.String(), Kind: payload.Kind, Err: err}
	}

	invalidated := 0
	if d.target != nil {
		invalidated = d.target.Invalidate(cache.AnyOf(d.scope(ctx, action, payload, rec)...))
	}
	span.SetAttributes(attribute.Int("mutation.invalidated", invalidated))
	logger.Info("mutation: write applied", "id", rec.ID, "invalidated", invalidated)
	return rec, nil
}

func (d *Dispatcher) record(ctx context.Context, action Action, kind string, took time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action.String()),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	if d.performed != nil {
		d.performed.Add(ctx, 1, attrs)
	}
	if d.duration != nil {
		d.duration.Record(ctx, float64(took)/float64(time.Millisecond), attrs)
	}
}
