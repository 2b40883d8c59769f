package di

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/controller"
	"github.com/goliatone/go-query-cache/listview"
	"github.com/goliatone/go-query-cache/mutation"
	"github.com/goliatone/go-query-cache/querycache"
)

// ErrNoFetch is returned by UseQuery and UseList when the container was built
// without a query function.
var ErrNoFetch = errors.New("di: no fetch function configured")

// Container owns the process-wide query cache: the shared result store, the
// entry store and the mutation dispatcher writing into it. Build one at
// startup and Close it on shutdown.
type Container struct {
	config     cache.Config
	results    cache.ResultStore
	store      *querycache.Store
	dispatcher *mutation.Dispatcher
	fetch      querycache.FetchFunc
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Container.
type Option func(*settings)

type settings struct {
	fetch      querycache.FetchFunc
	mutate     mutation.MutateFunc
	results    cache.ResultStore
	logger     *slog.Logger
	tracer     trace.TracerProvider
	meter      metric.MeterProvider
	dependents map[string][]string
}

// WithFetch sets the query function every UseQuery call goes through.
func WithFetch(fn querycache.FetchFunc) Option {
	return func(s *settings) { s.fetch = fn }
}

// WithMutate sets the remote write function.
func WithMutate(fn mutation.MutateFunc) Option {
	return func(s *settings) { s.mutate = fn }
}

// WithResultStore replaces the sturdyc result store built from the config.
func WithResultStore(rs cache.ResultStore) Option {
	return func(s *settings) { s.results = rs }
}

// WithLogger sets the logger shared by the store and the dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithTracerProvider sets the tracer provider for the store and dispatcher.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tracer = tp }
}

// WithMeterProvider sets the meter provider for the store and dispatcher.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *settings) { s.meter = mp }
}

// WithDependents makes writes to kind also invalidate the dependent kinds.
func WithDependents(kind string, dependents ...string) Option {
	return func(s *settings) {
		if s.dependents == nil {
			s.dependents = make(map[string][]string)
		}
		s.dependents[kind] = append(s.dependents[kind], dependents...)
	}
}

// NewContainer validates config and builds the cache stack.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	logger := s.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	results := s.results
	if results == nil {
		var err error
		if results, err = cache.NewResultStore(config); err != nil {
			return nil, err
		}
	}

	storeOpts := []querycache.Option{
		querycache.WithLogger(logger),
		querycache.WithResultStore(results),
		querycache.WithStaleTime(config.StaleTime),
	}
	dispatchOpts := []mutation.Option{
		mutation.WithLogger(logger),
		mutation.WithCatchAll(config.CatchAllCategory),
	}
	if s.tracer != nil {
		storeOpts = append(storeOpts, querycache.WithTracerProvider(s.tracer))
		dispatchOpts = append(dispatchOpts, mutation.WithTracerProvider(s.tracer))
	}
	if s.meter != nil {
		storeOpts = append(storeOpts, querycache.WithMeterProvider(s.meter))
		dispatchOpts = append(dispatchOpts, mutation.WithMeterProvider(s.meter))
	}
	for kind, deps := range s.dependents {
		dispatchOpts = append(dispatchOpts, mutation.WithDependents(kind, deps...))
	}

	store := querycache.New(storeOpts...)
	return &Container{
		config:     config,
		results:    results,
		store:      store,
		dispatcher: mutation.New(store, s.mutate, dispatchOpts...),
		fetch:      withPageSize(s.fetch, config.PageSize),
		logger:     logger,
	}, nil
}

// withPageSize fills in pageSize on pages whose source left PageSize unset,
// so HasMore can apply the full-page rule to them.
func withPageSize(fetch querycache.FetchFunc, pageSize int) querycache.FetchFunc {
	if fetch == nil {
		return nil
	}
	return func(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
		page, err := fetch(ctx, key)
		if err != nil || page == nil || page.PageSize > 0 {
			return page, err
		}
		sized := *page
		sized.PageSize = pageSize
		return &sized, nil
	}
}

// NewContainerWithDefaults builds a container from cache.DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// Config returns the configuration the container was built with.
func (c *Container) Config() cache.Config { return c.config }

// ResultStore returns the shared second-level result store.
func (c *Container) ResultStore() cache.ResultStore { return c.results }

// Store returns the query cache.
func (c *Container) Store() *querycache.Store { return c.store }

// Dispatcher returns the mutation dispatcher.
func (c *Container) Dispatcher() *mutation.Dispatcher { return c.dispatcher }

// UseQuery subscribes listener to the page (kind, params, page).
func (c *Container) UseQuery(kind string, params map[string]string, page int, listener querycache.Listener) (*querycache.Subscription, error) {
	if c.fetch == nil {
		return nil, ErrNoFetch
	}
	key, err := cache.BuildKey(kind, params, page)
	if err != nil {
		return nil, err
	}
	return c.store.Subscribe(key, c.fetch, listener)
}

// UseFilterState returns a new filter on page 1 of the catch-all category.
func (c *Container) UseFilterState() *controller.Filter {
	return controller.NewFilter(controller.FilterState{Category: c.config.CatchAllCategory, Page: 1})
}

// UseSelection returns an empty selection scoped to category.
func (c *Container) UseSelection(category string) *controller.Selection {
	return controller.NewSelection(category)
}

// UseList opens a list screen of preset.
func (c *Container) UseList(preset listview.Preset, opts ...listview.Option) (*listview.View, error) {
	if c.fetch == nil {
		return nil, ErrNoFetch
	}
	opts = append([]listview.Option{listview.WithLogger(c.logger)}, opts...)
	return listview.New(c.store, c.fetch, preset, opts...)
}

// Mutate performs a write and invalidates the pages it affects.
func (c *Container) Mutate(ctx context.Context, action mutation.Action, payload mutation.Payload) (cache.Record, error) {
	return c.dispatcher.Perform(ctx, action, payload)
}

// Close stops in-flight fetches and detaches every subscriber. It is safe to
// call more than once.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.store.Close()
	})
	return c.closeErr
}
