package policy

import (
	"encoding/json"
	"regexp"
)

// redactSentinel replaces a redacted field's value in the response tree.
const redactSentinel = "***"

// Blocked is returned in place of a response body when a blockPattern
// matches anywhere in its JSON serialization.
type Blocked struct {
	BlockedFlag bool   `json:"blocked"`
	Reason      string `json:"reason"`
}

// ApplyResponseFilters walks data and applies filters' redact/truncate
// rules, then checks blockPatterns against the full serialization. If any
// block pattern matches, the returned value is a Blocked record instead of
// data.
func ApplyResponseFilters(filters *ResponseFilters, data any) (any, error) {
	if filters == nil {
		return data, nil
	}

	result := data
	if len(filters.RedactFields) > 0 {
		result = redactFields(result, filters.RedactFields)
	}
	if len(filters.TruncateFields) > 0 {
		result = truncateFields(result, filters.TruncateFields)
	}

	if len(filters.BlockPatterns) > 0 {
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		for _, pattern := range filters.BlockPatterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			if re.Match(encoded) {
				return Blocked{BlockedFlag: true, Reason: "response matched blockPattern"}, nil
			}
		}
	}

	return result, nil
}

func redactFields(data any, fields []string) any {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		fieldSet[f] = struct{}{}
	}
	return walk(data, func(key string, v any) any {
		if _, ok := fieldSet[key]; ok {
			return redactSentinel
		}
		return v
	})
}

func truncateFields(data any, specs []TruncateField) any {
	limits := make(map[string]int, len(specs))
	for _, spec := range specs {
		limits[spec.Field] = spec.MaxLength
	}
	return walk(data, func(key string, v any) any {
		limit, ok := limits[key]
		if !ok {
			return v
		}
		s, ok := v.(string)
		if !ok {
			return v
		}
		runes := []rune(s)
		if len(runes) <= limit {
			return v
		}
		return string(runes[:limit])
	})
}

// walk recurses through maps and slices, applying transform to every
// map value keyed by its field name.
func walk(data any, transform func(key string, v any) any) any {
	switch val := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			transformed := transform(k, v)
			out[k] = walk(transformed, transform)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = walk(v, transform)
		}
		return out
	default:
		return val
	}
}
