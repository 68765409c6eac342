package flowkit

import (
	"fmt"
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`\{\{(.+?)\}\}`)

// RenderTemplate substitutes {{path.to.value}} placeholders in a
// string against a data mapping using dotted-path lookup. A
// placeholder whose path is missing is left verbatim rather than
// raising an error.
func RenderTemplate(template string, data map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return templateVarPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := lookupPath(data, path)
		if !ok {
			return match
		}
		return stringify(value)
	})
}

// RenderConfig returns a copy of a config mapping with every
// string-valued field rendered against the data mapping. Nested maps
// and slices are walked; non-string values pass through unchanged.
func RenderConfig(config map[string]any, data map[string]any) map[string]any {
	rendered := make(map[string]any, len(config))
	for key, value := range config {
		rendered[key] = renderValue(value, data)
	}
	return rendered
}

func renderValue(value any, data map[string]any) any {
	switch v := value.(type) {
	case string:
		return RenderTemplate(v, data)
	case map[string]any:
		return RenderConfig(v, data)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = renderValue(item, data)
		}
		return items
	default:
		return value
	}
}

// lookupPath resolves a dotted path like "user.name" against nested
// string-keyed maps.
func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
