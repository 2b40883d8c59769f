package cache

import (
	"encoding/json"
	"fmt"
)

// Record is a single row returned by a remote query. Only the identifier is
// interpreted; display fields are passed through untouched.
type Record struct {
	ID     string
	Fields map[string]any
}

// Field returns a display field, or nil when absent.
func (r Record) Field(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// String returns a display field formatted with %v, or "" when absent.
func (r Record) String(name string) string {
	v := r.Field(name)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// MarshalJSON flattens the record into one object with an _id member.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["_id"] = r.ID
	return json.Marshal(out)
}

// UnmarshalJSON accepts either _id or id as the identifier. Every other member
// lands in Fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, ok := raw["_id"]
	if ok {
		delete(raw, "_id")
	} else if id, ok = raw["id"]; ok {
		delete(raw, "id")
	}
	if !ok || id == nil {
		return fmt.Errorf("record: missing identifier")
	}

	switch v := id.(type) {
	case string:
		r.ID = v
	default:
		r.ID = fmt.Sprintf("%v", v)
	}
	r.Fields = raw
	return nil
}

// ResultPage is one page of records for a key.
type ResultPage struct {
	Items    []Record `json:"items"`
	PageSize int      `json:"pageSize"`
	// Total is the overall row count when the source reports one, 0 otherwise.
	Total int `json:"total,omitempty"`
	// Page is the 1-based page the items belong to. Only used together with Total.
	Page int `json:"page,omitempty"`
}

// HasMore reports whether a next page may exist.
//
// With a reported Total the answer is exact. Without it, a full page is taken
// to mean there is more, which misreports an exactly full last page.
func (p *ResultPage) HasMore() bool {
	if p == nil || p.PageSize <= 0 {
		return false
	}
	if p.Total > 0 && p.Page > 0 {
		return p.Page*p.PageSize < p.Total
	}
	return len(p.Items) == p.PageSize
}

// IDs returns the identifiers of the page in order.
func (p *ResultPage) IDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.ID
	}
	return ids
}

// Contains reports whether a record with id is on the page.
func (p *ResultPage) Contains(id string) bool {
	if p == nil {
		return false
	}
	for _, item := range p.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}
