package mutation

import (
	"context"

	"github.com/goliatone/go-query-cache/cache"
)

type affectedKindsContextKey struct{}

// WithAffectedKinds attaches resource kinds that a write made through ctx also
// invalidates, for writes whose side effects the dispatcher cannot infer.
func WithAffectedKinds(ctx context.Context, kinds ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(kinds) == 0 {
		return ctx
	}

	combined := dedupeStrings(append(affectedKindsFromContext(ctx), kinds...))
	if len(combined) == 0 {
		return ctx
	}
	return context.WithValue(ctx, affectedKindsContextKey{}, combined)
}

func affectedKindsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if kinds, ok := ctx.Value(affectedKindsContextKey{}).([]string); ok {
		return append([]string(nil), kinds...)
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// scope returns the predicates selecting every key whose page could contain
// the written record.
func (d *Dispatcher) scope(ctx context.Context, action Action, p Payload, rec cache.Record) []cache.KeyPredicate {
	var preds []cache.KeyPredicate
	kinds := []string{}

	switch action {
	case ActionCreate:
		preds = append(preds, d.createScope(p, rec))
		kinds = append(kinds, p.Kind)
	case ActionUpdate, ActionDelete:
		preds = append(preds, cache.ForKind(p.Kind))
		kinds = append(kinds, p.Kind)
	case ActionEnroll:
		preds = append(preds,
			cache.ForKindParam(cache.KindCourseMembers, cache.ParamCourseID, p.CourseID),
			cache.ForKindParam(cache.KindCourse, cache.ParamID, p.CourseID),
		)
		kinds = append(kinds, cache.KindCourseMembers)
	}

	var extra []string
	for _, kind := range kinds {
		extra = append(extra, d.dependents[kind]...)
	}
	extra = append(extra, affectedKindsFromContext(ctx)...)
	for _, kind := range dedupeStrings(extra) {
		preds = append(preds, cache.ForKind(kind))
	}
	return preds
}

// createScope matches keys of the kind that either do not filter by category
// or filter by the catch-all value or the new record's category.
func (d *Dispatcher) createScope(p Payload, rec cache.Record) cache.KeyPredicate {
	param, scoped := d.categoryParams[p.Kind]
	if !scoped {
		return cache.ForKind(p.Kind)
	}

	category := p.Category
	if category == "" {
		category = rec.String(param)
	}
	if category == "" {
		if v, ok := p.Fields[param].(string); ok {
			category = v
		}
	}
	if category == "" {
		return cache.ForKind(p.Kind)
	}

	return func(k cache.Key) bool {
		if k.Kind() != p.Kind {
			return false
		}
		v, ok := k.Param(param)
		return !ok || v == "" || v == d.catchAll || v == category
	}
}
