package mutation

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/goliatone/go-query-cache/cache"
)

// Member types accepted by enroll.
const (
	MemberStudent = "student"
	MemberFaculty = "faculty"
)

// Payload carries the input of a write. Which fields matter depends on the
// action:
//
//	create  Kind, Category, Fields
//	update  Kind, ID, Fields
//	delete  Kind, ID
//	enroll  CourseID, MemberType, UserIDs
type Payload struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
	// Category is the value of the kind's category parameter the new record
	// belongs to, e.g. the role of a created user.
	Category   string         `json:"category,omitempty"`
	CourseID   string         `json:"courseId,omitempty"`
	MemberType string         `json:"memberType,omitempty"`
	UserIDs    []string       `json:"userIds,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Validate checks p for action. Failures are *cache.InvalidParamError.
func (p Payload) Validate(action Action) error {
	var err error
	switch action {
	case ActionCreate:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.Kind, validation.Required),
			validation.Field(&p.Fields, validation.Required, fieldRules(p.Kind, true)),
		)
	case ActionUpdate:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.Kind, validation.Required),
			validation.Field(&p.ID, validation.Required),
			validation.Field(&p.Fields, fieldRules(p.Kind, false)),
		)
	case ActionDelete:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.Kind, validation.Required),
			validation.Field(&p.ID, validation.Required),
		)
	case ActionEnroll:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.CourseID, validation.Required),
			validation.Field(&p.MemberType, validation.Required, validation.In(MemberStudent, MemberFaculty)),
			validation.Field(&p.UserIDs, validation.Required, validation.Each(validation.Required)),
		)
	default:
		return &cache.InvalidParamError{Field: "action", Message: "unknown action " + string(action)}
	}
	return invalidParam(err)
}

// fieldRules validates user bodies. Other kinds pass through untouched.
func fieldRules(kind string, creating bool) validation.Rule {
	if kind != cache.KindUsers {
		return validation.Map().AllowExtraKeys()
	}
	if creating {
		return validation.Map(
			validation.Key("name", validation.Required),
			validation.Key("email", validation.Required, is.EmailFormat),
		).AllowExtraKeys()
	}
	return validation.Map(
		validation.Key("name", validation.Required).Optional(),
		validation.Key("email", validation.Required, is.EmailFormat).Optional(),
	).AllowExtraKeys()
}

// invalidParam flattens ozzo errors into an *cache.InvalidParamError naming the
// first failing field.
func invalidParam(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &cache.InvalidParamError{Field: "payload", Message: err.Error(), Err: err}
	}

	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	first := fields[0]

	field, msg := first, verrs[first].Error()
	var nested validation.Errors
	if errors.As(verrs[first], &nested) && len(nested) > 0 {
		keys := make([]string, 0, len(nested))
		for k := range nested {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		field = first + "." + keys[0]
		msg = nested[keys[0]].Error()
	}
	return &cache.InvalidParamError{Field: field, Message: msg, Err: err}
}
