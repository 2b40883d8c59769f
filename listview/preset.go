package listview

import (
	"maps"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
)

// Preset describes which query a list screen runs.
type Preset struct {
	Name string
	Kind string
	// CategoryParam is the key parameter the category tab writes to. Empty
	// means the screen has no tabs.
	CategoryParam   string
	DefaultCategory string
	// Params are fixed key parameters, such as the course of a member list.
	Params map[string]string
	// Selectable screens keep a selection scoped to the current category.
	Selectable bool
}

// UserDirectory is the admin user list with All/Faculty/Student tabs.
func UserDirectory() Preset {
	return Preset{
		Name:            "users",
		Kind:            cache.KindUsers,
		CategoryParam:   cache.ParamRole,
		DefaultCategory: cache.DefaultCatchAllCategory,
	}
}

// CourseMembers lists the faculty or students of one course.
func CourseMembers(courseID string) Preset {
	return Preset{
		Name:            "members",
		Kind:            cache.KindCourseMembers,
		CategoryParam:   cache.ParamMemberType,
		DefaultCategory: mutation.MemberFaculty,
		Params:          map[string]string{cache.ParamCourseID: courseID},
	}
}

// EnrollPicker is the dialog choosing users to enroll. It opens on the
// Faculty tab and keeps a selection.
func EnrollPicker() Preset {
	return Preset{
		Name:            "enroll",
		Kind:            cache.KindUsers,
		CategoryParam:   cache.ParamRole,
		DefaultCategory: "Faculty",
		Selectable:      true,
	}
}

func (p Preset) validate() error {
	if p.Kind == "" {
		return &cache.InvalidParamError{Field: "kind", Message: "cannot be empty"}
	}
	for name, value := range p.Params {
		if value == "" {
			return &cache.InvalidParamError{Field: name, Message: "cannot be empty"}
		}
	}
	return nil
}

// key builds the query key for search, category and page.
func (p Preset) key(search, category string, page int) (cache.Key, error) {
	params := maps.Clone(p.Params)
	if params == nil {
		params = make(map[string]string, 2)
	}
	if search != "" {
		params[cache.ParamSearch] = search
	}
	if p.CategoryParam != "" && category != "" {
		params[p.CategoryParam] = category
	}
	return cache.BuildKey(p.Kind, params, page)
}
