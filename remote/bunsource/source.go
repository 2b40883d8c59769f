package bunsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
)

// ErrUnsupported is returned for writes a repository cannot express.
var ErrUnsupported = errors.New("bunsource: unsupported operation")

// Repository is the part of repository.Repository[T] a Source uses. Every
// go-repository-bun repository satisfies it.
type Repository[T any] interface {
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error)
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error)
	Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error)
	Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error)
	Delete(ctx context.Context, record T) error
}

// Filter turns the value of a key parameter into select criteria.
type Filter func(value string) repository.SelectCriteria

// Equals filters on column = value.
func Equals(column string) Filter {
	return func(value string) repository.SelectCriteria {
		return func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("? = ?", bun.Ident(column), value)
		}
	}
}

// Search matches value as a case-insensitive substring of any column.
func Search(columns ...string) Filter {
	return func(value string) repository.SelectCriteria {
		pattern := "%" + strings.ToLower(value) + "%"
		return func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				for _, col := range columns {
					q = q.WhereOr("LOWER(?) LIKE ?", bun.Ident(col), pattern)
				}
				return q
			})
		}
	}
}

// Source serves one key kind from a repository of T.
type Source[T any] struct {
	kind     string
	repo     Repository[T]
	toRecord func(T) cache.Record
	apply    func(record *T, p mutation.Payload) error

	filters  map[string]Filter
	order    []string
	catchAll string
	pageSize int
	logger   *slog.Logger
}

// Option configures a Source.
type Option[T any] func(*Source[T])

// WithFilter maps the key parameter param onto criteria.
func WithFilter[T any](param string, f Filter) Option[T] {
	return func(s *Source[T]) {
		s.filters[param] = f
	}
}

// WithOrder sets ORDER BY expressions so pages are stable.
func WithOrder[T any](exprs ...string) Option[T] {
	return func(s *Source[T]) {
		s.order = exprs
	}
}

// WithCatchAll sets the parameter value that disables a filter.
func WithCatchAll[T any](value string) Option[T] {
	return func(s *Source[T]) {
		s.catchAll = value
	}
}

// WithPageSize sets the page size.
func WithPageSize[T any](n int) Option[T] {
	return func(s *Source[T]) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithApply sets how create and update payloads are written onto a T.
// Without it the source is read only.
func WithApply[T any](fn func(record *T, p mutation.Payload) error) Option[T] {
	return func(s *Source[T]) {
		s.apply = fn
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(s *Source[T]) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a source serving kind from repo.
func New[T any](kind string, repo Repository[T], toRecord func(T) cache.Record, opts ...Option[T]) *Source[T] {
	s := &Source[T]{
		kind:     kind,
		repo:     repo,
		toRecord: toRecord,
		filters:  make(map[string]Filter),
		catchAll: cache.DefaultCatchAllCategory,
		pageSize: cache.DefaultPageSize,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Criteria builds the select criteria for key: one per non-empty filter
// parameter plus ordering and pagination.
func (s *Source[T]) Criteria(key cache.Key) ([]repository.SelectCriteria, error) {
	if key.Kind() != s.kind {
		return nil, fmt.Errorf("bunsource: kind %q served by %q source", key.Kind(), s.kind)
	}

	params := key.Params()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var criteria []repository.SelectCriteria
	for _, name := range names {
		value := params[name]
		if value == "" || value == s.catchAll {
			continue
		}
		f, ok := s.filters[name]
		if !ok {
			return nil, &cache.InvalidParamError{Field: name, Message: "no filter registered"}
		}
		criteria = append(criteria, f(value))
	}

	limit, offset := s.pageSize, (key.Page()-1)*s.pageSize
	order := s.order
	criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
		for _, expr := range order {
			q = q.OrderExpr(expr)
		}
		return q.Limit(limit).Offset(offset)
	})
	return criteria, nil
}

// Fetch lists one page of records for key.
func (s *Source[T]) Fetch(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
	criteria, err := s.Criteria(key)
	if err != nil {
		return nil, err
	}

	rows, total, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("bunsource: listed", "key", key.String(), "rows", len(rows), "total", total)

	out := &cache.ResultPage{
		Items:    make([]cache.Record, len(rows)),
		PageSize: s.pageSize,
		Page:     key.Page(),
		Total:    total,
	}
	for i, row := range rows {
		out.Items[i] = s.toRecord(row)
	}
	return out, nil
}

// Mutate applies create, update and delete through the repository.
func (s *Source[T]) Mutate(ctx context.Context, action mutation.Action, p mutation.Payload) (cache.Record, error) {
	if p.Kind != s.kind {
		return cache.Record{}, fmt.Errorf("%s %q: %w", action, p.Kind, ErrUnsupported)
	}

	switch action {
	case mutation.ActionCreate:
		if s.apply == nil {
			return cache.Record{}, fmt.Errorf("%s: %w", action, ErrUnsupported)
		}
		var rec T
		if err := s.apply(&rec, p); err != nil {
			return cache.Record{}, err
		}
		created, err := s.repo.Create(ctx, rec)
		if err != nil {
			return cache.Record{}, err
		}
		return s.toRecord(created), nil

	case mutation.ActionUpdate:
		if s.apply == nil {
			return cache.Record{}, fmt.Errorf("%s: %w", action, ErrUnsupported)
		}
		rec, err := s.repo.GetByID(ctx, p.ID)
		if err != nil {
			return cache.Record{}, err
		}
		if err := s.apply(&rec, p); err != nil {
			return cache.Record{}, err
		}
		updated, err := s.repo.Update(ctx, rec)
		if err != nil {
			return cache.Record{}, err
		}
		return s.toRecord(updated), nil

	case mutation.ActionDelete:
		rec, err := s.repo.GetByID(ctx, p.ID)
		if err != nil {
			return cache.Record{}, err
		}
		if err := s.repo.Delete(ctx, rec); err != nil {
			return cache.Record{}, err
		}
		return s.toRecord(rec), nil
	}
	return cache.Record{}, fmt.Errorf("%s: %w", action, ErrUnsupported)
}
