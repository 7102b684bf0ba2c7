package criteria

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// reservedKeys mark a map as advanced options rather than an equality map.
var reservedKeys = []string{"filters", "criteria", "asc", "desc", "limit", "offset", "count", "fetchAll"}

// Normalize converts caller input into Criteria.
//
// Arrays pass through, maps without reserved keys pass through, everything
// else with a reserved key is read as advanced options. Shapes that cannot
// be interpreted produce the empty map.
func Normalize(input any) Criteria {
	switch v := input.(type) {
	case nil:
		return Empty()
	case Criteria:
		return v
	case []FilterClause:
		return FromClauses(v)
	case []any:
		return FromClauses(clausesFromSlice(v))
	case []map[string]any:
		clauses := make([]FilterClause, 0, len(v))
		for _, item := range v {
			if clause, ok := clauseFromMap(item); ok {
				clauses = append(clauses, clause)
			}
		}
		return FromClauses(clauses)
	case SearchOptions:
		return fromOptions(v)
	case *SearchOptions:
		if v == nil {
			return Empty()
		}
		return fromOptions(*v)
	case map[string]any:
		if !hasReservedKey(v) {
			return FromMap(v)
		}
		return fromOptions(optionsFromMap(v))
	case json.RawMessage:
		return normalizeJSON(v)
	case []byte:
		return normalizeJSON(v)
	case string:
		if trimmed := strings.TrimSpace(v); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			return normalizeJSON([]byte(trimmed))
		}
		return Empty()
	default:
		return Empty()
	}
}

func normalizeJSON(data []byte) Criteria {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Empty()
	}
	switch decoded.(type) {
	case []any, map[string]any:
		return Normalize(decoded)
	default:
		return Empty()
	}
}

func hasReservedKey(m map[string]any) bool {
	for _, key := range reservedKeys {
		if _, ok := m[key]; ok {
			return true
		}
	}
	return false
}

func fromOptions(opts SearchOptions) Criteria {
	clauses := make([]FilterClause, 0, len(opts.Filters)+5)
	for _, filter := range opts.Filters {
		if filter.Count {
			opts.Count = true
			continue
		}
		if strings.TrimSpace(filter.Field) == "" {
			continue
		}
		operator := strings.ToUpper(strings.TrimSpace(filter.Operator))
		if operator == "" {
			operator = OpEqual
		}
		clauses = append(clauses, FilterClause{
			Field:    filter.Field,
			Value:    sanitizeValue(filter.Value),
			Operator: operator,
		})
	}

	asc, desc := opts.Asc, opts.Desc
	if opts.Sort != nil && strings.TrimSpace(opts.Sort.Field) != "" {
		if strings.EqualFold(strings.TrimSpace(opts.Sort.Direction), "desc") {
			desc = opts.Sort.Field
		} else {
			asc = opts.Sort.Field
		}
	}
	if asc != "" {
		clauses = append(clauses, FilterClause{Field: FieldAsc, Value: asc})
	}
	if desc != "" {
		clauses = append(clauses, FilterClause{Field: FieldDesc, Value: desc})
	}
	if opts.Limit != nil && *opts.Limit >= 0 {
		clauses = append(clauses, FilterClause{Field: FieldLimit, Value: *opts.Limit})
	}
	if opts.Offset != nil && *opts.Offset >= 0 {
		clauses = append(clauses, FilterClause{Field: FieldOffset, Value: *opts.Offset})
	}
	if opts.FetchAll {
		clauses = append(clauses, FilterClause{Field: FieldFetchAll, Value: true})
	}
	// The count marker must lead the array: clients that page through
	// criteria arrays drop trailing elements past a fixed index.
	if opts.Count {
		clauses = append([]FilterClause{CountMarker()}, clauses...)
	}

	if len(clauses) == 0 {
		return Empty()
	}
	c := FromClauses(clauses)
	c.sanitized = true
	return c
}

func optionsFromMap(m map[string]any) SearchOptions {
	var opts SearchOptions

	filters, ok := m["filters"]
	if !ok {
		filters = m["criteria"]
	}
	switch list := filters.(type) {
	case []any:
		opts.Filters = clausesFromSlice(list)
	case []FilterClause:
		opts.Filters = list
	case []map[string]any:
		for _, item := range list {
			if clause, ok := clauseFromMap(item); ok {
				opts.Filters = append(opts.Filters, clause)
			}
		}
	case map[string]any:
		// An equality map under filters becomes one clause per key.
		for _, key := range sortedKeys(list) {
			opts.Filters = append(opts.Filters, FilterClause{Field: key, Value: list[key]})
		}
	}

	opts.Asc = stringValue(m["asc"])
	opts.Desc = stringValue(m["desc"])
	if sort, ok := m["sort"].(map[string]any); ok {
		opts.Sort = &Sort{Field: stringValue(sort["field"]), Direction: stringValue(sort["direction"])}
	}
	if limit, ok := intValue(m["limit"]); ok {
		opts.Limit = &limit
	}
	if offset, ok := intValue(m["offset"]); ok {
		opts.Offset = &offset
	}
	opts.Count = boolValue(m["count"])
	opts.FetchAll = boolValue(m["fetchAll"])
	return opts
}

func clausesFromSlice(items []any) []FilterClause {
	clauses := make([]FilterClause, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case FilterClause:
			clauses = append(clauses, v)
		case map[string]any:
			if clause, ok := clauseFromMap(v); ok {
				clauses = append(clauses, clause)
			}
		}
	}
	return clauses
}

func clauseFromMap(m map[string]any) (FilterClause, bool) {
	if boolValue(m["count"]) {
		if _, hasField := m["field"]; !hasField {
			return CountMarker(), true
		}
	}
	field := stringValue(m["field"])
	if field == "" {
		return FilterClause{}, false
	}
	return FilterClause{
		Field:    field,
		Value:    m["value"],
		Operator: stringValue(m["operator"]),
	}, true
}

// Sanitize escapes backslashes and single quotes and strips NUL bytes so a
// value cannot terminate its quoted literal in the QBO query language.
func Sanitize(value string) string {
	value = strings.ReplaceAll(value, "\x00", "")
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		return Sanitize(v)
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = Sanitize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}

func stringValue(value any) string {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func boolValue(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	default:
		return false
	}
}

func intValue(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(parsed), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// IsCountQuery reports whether criteria asks for a count only.
func IsCountQuery(c Criteria) bool {
	if c.array {
		for _, clause := range c.clauses {
			if clause.Count {
				return true
			}
		}
		return false
	}
	count, ok := c.fields[FieldCount].(bool)
	return ok && count
}
