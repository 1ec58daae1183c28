// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// projection is one stage payload flattened onto registry field names.
// Absent and empty values are left out.
type projection map[string]any

func project(reg *Registry, data map[string]any) projection {
	p := make(projection, len(reg.Fields))
	for _, f := range reg.Fields {
		v, ok := lookup(data, f.path())
		if !ok || isEmpty(v) {
			continue
		}
		p[f.Name] = v
	}
	return p
}

// lookup follows a dotted path through nested maps.
func lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes v at a dotted path, creating intermediate maps.
func setPath(data map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	m := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// canonical renders v in a form where equal values of a field compare
// equal as strings. JSON output sorts map keys.
func canonical(kind FieldKind, v any) string {
	switch kind {
	case KindDate:
		if s, ok := v.(string); ok {
			if t, err := parseDate(s); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
	case KindString:
		if s, ok := v.(string); ok {
			return strings.ToLower(strings.Join(strings.Fields(s), " "))
		}
	case KindText:
		if s, ok := v.(string); ok {
			return strings.Join(strings.Fields(s), " ")
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// cloneMap deep-copies JSON-shaped payloads so results never alias
// caller data.
func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
