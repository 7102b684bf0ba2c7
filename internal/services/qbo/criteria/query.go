package criteria

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MaxPageSize is the largest MAXRESULTS QBO accepts.
const MaxPageSize = 1000

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)*$`)

var allowedOperators = map[string]struct{}{
	OpEqual: {}, OpLess: {}, OpGreater: {}, OpLessEqual: {}, OpGreaterEqual: {}, OpLike: {}, OpIn: {},
}

// Query is a QBO query statement split into parts so fetch-all callers can
// re-render it page by page.
type Query struct {
	Entity     string
	Conditions []string
	OrderBy    []string
	// StartPosition is 1-based; 0 leaves it unset.
	StartPosition int
	// MaxResults is 0 when unset.
	MaxResults int
	Count      bool
	FetchAll   bool
}

// String renders the full statement.
func (q Query) String() string {
	return q.render(q.StartPosition, q.MaxResults)
}

// Page renders the statement for one fetch-all page.
func (q Query) Page(startPosition, maxResults int) string {
	return q.render(startPosition, maxResults)
}

func (q Query) render(startPosition, maxResults int) string {
	var b strings.Builder
	if q.Count {
		b.WriteString("SELECT COUNT(*) FROM ")
	} else {
		b.WriteString("SELECT * FROM ")
	}
	b.WriteString(q.Entity)
	if len(q.Conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.Conditions, " AND "))
	}
	if q.Count {
		return b.String()
	}
	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDERBY ")
		b.WriteString(strings.Join(q.OrderBy, ", "))
	}
	if startPosition > 0 {
		b.WriteString(" STARTPOSITION ")
		b.WriteString(strconv.Itoa(startPosition))
	}
	if maxResults > 0 {
		b.WriteString(" MAXRESULTS ")
		b.WriteString(strconv.Itoa(maxResults))
	}
	return b.String()
}

// BuildQuery renders criteria against entity. Offsets are zero-based skip
// counts and become STARTPOSITION offset+1. String values that Normalize did
// not already sanitize are escaped here, so pass-through maps and clause
// arrays cannot break out of their literals.
func BuildQuery(entity string, c Criteria) (Query, error) {
	if !identifierPattern.MatchString(entity) {
		return Query{}, fmt.Errorf("invalid entity name %q", entity)
	}
	q := Query{Entity: entity}

	if !c.IsArray() {
		fields := c.Fields()
		for _, key := range sortedKeys(fields) {
			if key == FieldCount {
				q.Count = boolValue(fields[key])
				continue
			}
			condition, err := condition(key, OpEqual, fields[key], !c.sanitized)
			if err != nil {
				return Query{}, err
			}
			q.Conditions = append(q.Conditions, condition)
		}
		return q, nil
	}

	for _, clause := range c.Clauses() {
		if clause.Count {
			q.Count = true
			continue
		}
		switch clause.Field {
		case FieldAsc, FieldDesc:
			field, ok := clause.Value.(string)
			if !ok || !identifierPattern.MatchString(field) {
				return Query{}, fmt.Errorf("invalid sort field %v", clause.Value)
			}
			q.OrderBy = append(q.OrderBy, field+" "+strings.ToUpper(clause.Field))
		case FieldLimit:
			limit, ok := intValue(clause.Value)
			if !ok || limit < 0 {
				return Query{}, fmt.Errorf("invalid limit %v", clause.Value)
			}
			q.MaxResults = min(limit, MaxPageSize)
		case FieldOffset:
			offset, ok := intValue(clause.Value)
			if !ok || offset < 0 {
				return Query{}, fmt.Errorf("invalid offset %v", clause.Value)
			}
			q.StartPosition = offset + 1
		case FieldFetchAll:
			q.FetchAll = boolValue(clause.Value)
		case FieldCount:
			q.Count = q.Count || boolValue(clause.Value)
		default:
			operator := strings.ToUpper(strings.TrimSpace(clause.Operator))
			if operator == "" {
				operator = OpEqual
			}
			condition, err := condition(clause.Field, operator, clause.Value, !c.sanitized)
			if err != nil {
				return Query{}, err
			}
			q.Conditions = append(q.Conditions, condition)
		}
	}
	return q, nil
}

func condition(field, operator string, value any, escape bool) (string, error) {
	if !identifierPattern.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	if _, ok := allowedOperators[operator]; !ok {
		return "", fmt.Errorf("unsupported operator %q for field %s", operator, field)
	}
	if operator == OpIn {
		list, err := literalList(value, escape)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field, err)
		}
		return field + " IN " + list, nil
	}
	literal, err := literal(value, escape)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", field, err)
	}
	return field + " " + operator + " " + literal, nil
}

func literal(value any, escape bool) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", fmt.Errorf("value is required")
	case string:
		if escape {
			v = Sanitize(v)
		}
		return "'" + v + "'", nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}

func literalList(value any, escape bool) (string, error) {
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case []string:
		for _, item := range v {
			items = append(items, item)
		}
	default:
		single, err := literal(value, escape)
		if err != nil {
			return "", err
		}
		return "(" + single + ")", nil
	}
	if len(items) == 0 {
		return "", fmt.Errorf("IN requires at least one value")
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		part, err := literal(item, escape)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
