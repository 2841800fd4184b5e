package policy

import (
	"encoding/json"
	"regexp"
	"strings"
)

// domainAllowed reports whether host satisfies guards' allow/block lists.
// An empty AllowedDomains list means "no allow-list restriction".
func domainAllowed(g *Guards, host string) bool {
	if g == nil {
		return true
	}
	for _, blocked := range g.BlockedDomains {
		if hasSuffixDomain(host, blocked) {
			return false
		}
	}
	if len(g.AllowedDomains) == 0 {
		return true
	}
	for _, allowed := range g.AllowedDomains {
		if hasSuffixDomain(host, allowed) {
			return true
		}
	}
	return false
}

func hasSuffixDomain(host, suffix string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	suffix = strings.ToLower(strings.TrimSuffix(suffix, "."))
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

// requestSizeOK reports whether the serialized params fit within
// MaxRequestSize (0 means unbounded).
func requestSizeOK(g *Guards, params map[string]any) bool {
	if g == nil || g.MaxRequestSize <= 0 {
		return true
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return false
	}
	return len(encoded) <= g.MaxRequestSize
}

// defaultPIIPatterns maps a named filter to the regex it masks. Callers may
// also pass a filter that is itself a valid regex, for custom patterns.
var defaultPIIPatterns = map[string]*regexp.Regexp{
	"email":      regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"ssn":        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"phone":      regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	"creditcard": regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
}

// applyPIIFilters masks matched fragments in every string field of params,
// returning a new map (params is not mutated in place).
func applyPIIFilters(filters []string, params map[string]any) map[string]any {
	if len(filters) == 0 || params == nil {
		return params
	}

	patterns := make([]*regexp.Regexp, 0, len(filters))
	for _, f := range filters {
		if re, ok := defaultPIIPatterns[f]; ok {
			patterns = append(patterns, re)
			continue
		}
		if re, err := regexp.Compile(f); err == nil {
			patterns = append(patterns, re)
		}
	}
	if len(patterns) == 0 {
		return params
	}

	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = maskValue(v, patterns)
	}
	return out
}

func maskValue(v any, patterns []*regexp.Regexp) any {
	switch val := v.(type) {
	case string:
		masked := val
		for _, re := range patterns {
			masked = re.ReplaceAllString(masked, "***")
		}
		return masked
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = maskValue(inner, patterns)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = maskValue(inner, patterns)
		}
		return out
	default:
		return v
	}
}
