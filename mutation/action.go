package mutation

import (
	"strings"
	"unicode"

	"github.com/goliatone/go-query-cache/cache"
)

// Action names a remote write.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionEnroll Action = "enroll"
)

var actionAliases = map[string]Action{
	"create": ActionCreate,
	"add":    ActionCreate,
	"insert": ActionCreate,
	"update": ActionUpdate,
	"edit":   ActionUpdate,
	"patch":  ActionUpdate,
	"delete": ActionDelete,
	"remove": ActionDelete,
	"enroll": ActionEnroll,
	"enrol":  ActionEnroll,
}

// ParseAction normalizes a user or wire supplied action name. Case and
// separators are ignored, so "Delete", "DELETE" and " delete " all parse.
func ParseAction(name string) (Action, error) {
	if a, ok := actionAliases[toSnake(name)]; ok {
		return a, nil
	}
	return "", &cache.InvalidParamError{Field: "action", Message: "unknown action " + strings.TrimSpace(name)}
}

func (a Action) String() string { return string(a) }

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionEnroll:
		return true
	}
	return false
}

// toSnake lowers s and joins words with underscores. Word breaks are case
// changes, letter/digit boundaries and any non alphanumeric rune; runs of
// separators collapse and edge separators are dropped.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	pendingSep := false
	sep := func() {
		if b.Len() > 0 {
			pendingSep = true
		}
	}
	write := func(r rune) {
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sep()
				}
			}
			write(unicode.ToLower(r))
		case unicode.IsLower(r):
			write(r)
		case unicode.IsDigit(r):
			if i > 0 && unicode.IsLetter(runes[i-1]) {
				sep()
			}
			write(r)
		default:
			sep()
		}
	}
	return b.String()
}
