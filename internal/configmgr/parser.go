package configmgr

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
)

// parseConfig parses a KEY=VALUE file: blank lines and lines beginning
// with # (after leading whitespace) are ignored; values may be
// double-quoted to carry leading/trailing whitespace or a literal #.
func parseConfig(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.Index(trimmed, "=")
		if idx < 0 {
			return nil, fmt.Errorf("configmgr: line %d: missing '=': %q", lineNo, line)
		}
		key := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+1:])
		if key == "" {
			return nil, fmt.Errorf("configmgr: line %d: empty key", lineNo)
		}
		out[key] = unquote(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("configmgr: scan: %w", err)
	}
	return out, nil
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

func quoteIfNeeded(v string) string {
	if v == "" || strings.ContainsAny(v, " #\t") {
		return `"` + v + `"`
	}
	return v
}

// Template orders serialization: requiredKeys first (in the given order,
// only if present in values), then flagKeys (same rule), then every
// remaining key sorted alphabetically: required keys first, then flags,
// then extra keys appended.
type Template struct {
	RequiredKeys []string
	FlagKeys     []string
}

// serializeConfig renders values as a deterministic KEY=VALUE file
// following tmpl's key ordering.
func serializeConfig(values map[string]string, tmpl Template) []byte {
	var b strings.Builder
	written := make(map[string]bool, len(values))

	writeKey := func(k string) {
		if written[k] {
			return
		}
		v, ok := values[k]
		if !ok {
			return
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(v))
		b.WriteByte('\n')
		written[k] = true
	}

	for _, k := range tmpl.RequiredKeys {
		writeKey(k)
	}
	for _, k := range tmpl.FlagKeys {
		writeKey(k)
	}

	var extra []string
	for k := range values {
		if !written[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		writeKey(k)
	}

	return []byte(b.String())
}
