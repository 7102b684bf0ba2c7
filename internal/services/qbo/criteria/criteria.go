package criteria

import (
	"encoding/json"
	"maps"
	"slices"
)

// Operators accepted in a filter clause.
const (
	OpEqual        = "="
	OpLess         = "<"
	OpGreater      = ">"
	OpLessEqual    = "<="
	OpGreaterEqual = ">="
	OpLike         = "LIKE"
	OpIn           = "IN"
)

// Synthetic clause fields used by advanced options.
const (
	FieldAsc      = "asc"
	FieldDesc     = "desc"
	FieldLimit    = "limit"
	FieldOffset   = "offset"
	FieldFetchAll = "fetchAll"
	FieldCount    = "count"
)

// FilterClause is one predicate against a queryable field, one synthetic
// sort/pagination clause, or the count marker.
type FilterClause struct {
	Field    string
	Value    any
	Operator string
	// Count marks the {count: true} clause.
	Count bool
}

// CountMarker returns the clause that switches a query into count mode.
func CountMarker() FilterClause {
	return FilterClause{Count: true}
}

// MarshalJSON writes the count marker as {"count":true} and every other
// clause as {"field":..,"value":..[,"operator":..]}.
func (c FilterClause) MarshalJSON() ([]byte, error) {
	if c.Count {
		return []byte(`{"count":true}`), nil
	}
	wire := struct {
		Field    string `json:"field"`
		Value    any    `json:"value"`
		Operator string `json:"operator,omitempty"`
	}{Field: c.Field, Value: c.Value, Operator: c.Operator}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts the shapes written by MarshalJSON.
func (c *FilterClause) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	clause, _ := clauseFromMap(raw)
	*c = clause
	return nil
}

// Sort names a field and direction ("asc" or "desc").
type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

// SearchOptions is the canonical form of what to search for.
type SearchOptions struct {
	Filters  []FilterClause
	Sort     *Sort
	Asc      string
	Desc     string
	Limit    *int
	Offset   *int
	Count    bool
	FetchAll bool
}

// Criteria is the normalized search criteria: either an ordered clause
// array or a flat equality map.
type Criteria struct {
	clauses []FilterClause
	fields  map[string]any
	array   bool
	// sanitized is set when string values were already escaped by Normalize.
	sanitized bool
}

// FromClauses wraps clauses in array form.
func FromClauses(clauses []FilterClause) Criteria {
	if clauses == nil {
		clauses = []FilterClause{}
	}
	return Criteria{clauses: clauses, array: true}
}

// FromMap wraps an equality map.
func FromMap(fields map[string]any) Criteria {
	if fields == nil {
		fields = map[string]any{}
	}
	return Criteria{fields: fields}
}

// Empty returns the "no filter" criteria: an empty map.
func Empty() Criteria {
	return FromMap(nil)
}

// IsArray reports whether the criteria is in clause-array form.
func (c Criteria) IsArray() bool { return c.array }

// Clauses returns a copy of the clause array, nil for map form.
func (c Criteria) Clauses() []FilterClause {
	if !c.array {
		return nil
	}
	return slices.Clone(c.clauses)
}

// Fields returns a copy of the equality map, nil for array form.
func (c Criteria) Fields() map[string]any {
	if c.array {
		return nil
	}
	if c.fields == nil {
		return map[string]any{}
	}
	return maps.Clone(c.fields)
}

// MarshalJSON writes a JSON array or object depending on the form.
func (c Criteria) MarshalJSON() ([]byte, error) {
	if c.array {
		if c.clauses == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.clauses)
	}
	if c.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.fields)
}
