package engine

import (
	"regexp"

	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/value"
)

// templateRef matches "{{ path }}" placeholders in action strings.
var templateRef = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// expand substitutes binding references in a template string. Unresolved
// references expand to the empty string; validation already warned about
// roots that can never bind.
func (b *binding) expand(s string) string {
	if s == "" || !containsRef(s) {
		return s
	}
	return templateRef.ReplaceAllStringFunc(s, func(m string) string {
		path := templateRef.FindStringSubmatch(m)[1]
		v, ok := b.Resolve(path)
		if !ok {
			return ""
		}
		return value.Stringify(v)
	})
}

func containsRef(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '{' && s[i+1] == '{' {
			return true
		}
	}
	return false
}

// expandValue walks a JSON-shaped value and expands every string leaf.
// A string that is exactly one placeholder resolves to the referenced
// value itself, preserving its type; mixed strings stringify.
func (b *binding) expandValue(v any) any {
	switch t := v.(type) {
	case string:
		if path, ok := wholeRef(t); ok {
			if resolved, found := b.Resolve(path); found {
				return rule.CopyValue(resolved)
			}
			return nil
		}
		return b.expand(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = b.expandValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = b.expandValue(e)
		}
		return out
	default:
		return v
	}
}

// wholeRef reports whether s is exactly one "{{path}}" placeholder.
func wholeRef(s string) (string, bool) {
	m := templateRef.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return "", false
	}
	return m[1], true
}

// expandData expands string leaves across an event-data style map.
func (b *binding) expandData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = b.expandValue(v)
	}
	return out
}
