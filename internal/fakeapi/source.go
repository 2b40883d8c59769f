package fakeapi

import (
	"context"
	"fmt"
	"maps"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
)

// SetReportTotals makes pages carry the total match count. By default pages
// carry none and consumers fall back to the full-page heuristic.
func (d *Directory) SetReportTotals(on bool) {
	d.mu.Lock()
	d.reportTotals = on
	d.mu.Unlock()
}

func (d *Directory) reportsTotals() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reportTotals
}

// Fetch answers a query key directly from memory.
func (d *Directory) Fetch(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch key.Kind() {
	case cache.KindUsers:
		search, _ := key.Param(cache.ParamSearch)
		role, _ := key.Param(cache.ParamRole)
		users, total := d.SearchUsers(search, role, key.Page())
		return d.usersPage(users, key.Page(), total), nil

	case cache.KindCourseMembers:
		courseID, _ := key.Param(cache.ParamCourseID)
		memberType, _ := key.Param(cache.ParamMemberType)
		search, _ := key.Param(cache.ParamSearch)
		users, total, err := d.CourseMembers(courseID, memberType, search, key.Page())
		if err != nil {
			return nil, err
		}
		return d.usersPage(users, key.Page(), total), nil

	case cache.KindCourse:
		id, _ := key.Param(cache.ParamID)
		course, err := d.Course(id)
		if err != nil {
			return nil, err
		}
		return &cache.ResultPage{Items: []cache.Record{course.Record()}, Page: 1}, nil
	}
	return nil, fmt.Errorf("kind %q: %w", key.Kind(), ErrUnsupported)
}

func (d *Directory) usersPage(users []User, page, total int) *cache.ResultPage {
	out := &cache.ResultPage{
		Items:    make([]cache.Record, len(users)),
		PageSize: d.pageSize,
		Page:     page,
	}
	for i, u := range users {
		out.Items[i] = u.Record()
	}
	if d.reportsTotals() {
		out.Total = total
	}
	return out
}

// Mutate applies a write directly to memory.
func (d *Directory) Mutate(ctx context.Context, action mutation.Action, p mutation.Payload) (cache.Record, error) {
	if err := ctx.Err(); err != nil {
		return cache.Record{}, err
	}

	if action == mutation.ActionEnroll {
		course, err := d.Enroll(p.CourseID, p.MemberType, p.UserIDs)
		if err != nil {
			return cache.Record{}, err
		}
		return course.Record(), nil
	}

	if p.Kind != cache.KindUsers {
		return cache.Record{}, fmt.Errorf("%s %q: %w", action, p.Kind, ErrUnsupported)
	}

	var (
		u   User
		err error
	)
	switch action {
	case mutation.ActionCreate:
		fields := maps.Clone(p.Fields)
		if fields == nil {
			fields = map[string]any{}
		}
		if _, ok := fields["role"]; !ok && p.Category != "" {
			fields["role"] = p.Category
		}
		u, err = d.CreateUser(fields)
	case mutation.ActionUpdate:
		u, err = d.UpdateUser(p.ID, p.Fields)
	case mutation.ActionDelete:
		u, err = d.DeleteUser(p.ID)
	default:
		err = fmt.Errorf("action %q: %w", action, ErrUnsupported)
	}
	if err != nil {
		return cache.Record{}, err
	}
	return u.Record(), nil
}
