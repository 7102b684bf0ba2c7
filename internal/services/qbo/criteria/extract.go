package criteria

import (
	"encoding/json"
	"math"
	"strconv"
)

// ExtractResult pulls the count (when isCount) or the entity rows out of a
// query response envelope shaped {"QueryResponse": {<entityKey>: [...],
// "totalCount": n}}. Missing or malformed data yields 0 or an empty slice.
func ExtractResult(raw any, entityKey string, isCount bool) any {
	if isCount {
		return ExtractCount(raw)
	}
	return ExtractRows(raw, entityKey)
}

// ExtractCount returns QueryResponse.totalCount, or 0.
func ExtractCount(raw any) int {
	response := queryResponse(raw)
	if response == nil {
		return 0
	}
	switch v := response["totalCount"].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0
		}
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// ExtractRows returns QueryResponse[entityKey], or an empty slice.
func ExtractRows(raw any, entityKey string) []any {
	response := queryResponse(raw)
	if response == nil {
		return []any{}
	}
	switch rows := response[entityKey].(type) {
	case []any:
		return rows
	case []map[string]any:
		out := make([]any, len(rows))
		for i, row := range rows {
			out[i] = row
		}
		return out
	default:
		return []any{}
	}
}

func queryResponse(raw any) map[string]any {
	var envelope map[string]any
	switch v := raw.(type) {
	case map[string]any:
		envelope = v
	case json.RawMessage:
		return queryResponse([]byte(v))
	case []byte:
		// Undecodable bodies extract as empty results.
		if err := json.Unmarshal(v, &envelope); err != nil {
			return nil
		}
	}
	if envelope == nil {
		return nil
	}
	response, _ := envelope["QueryResponse"].(map[string]any)
	return response
}
