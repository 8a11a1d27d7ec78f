package strategy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gorax/gorax/internal/validation"
)

var (
	interpolationRegex = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	arrayIndexRegex    = regexp.MustCompile(`^(.+)\[(\d+)\]$`)
)

// interpolateString replaces {{path.to.value}} references with the
// corresponding value from input, using JSONPath-like dot notation
// (e.g. "steps.http-1.body.users[0].name"). Paths that don't resolve
// are left untouched rather than erroring, matching template semantics.
func interpolateString(template string, input map[string]interface{}) string {
	return interpolationRegex.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		value, err := valueByPath(input, path)
		if err != nil {
			return match
		}
		return stringify(value)
	})
}

// interpolateJSON recursively interpolates every string leaf of a JSON
// value tree.
func interpolateJSON(value interface{}, input map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return interpolateString(v, input)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = interpolateJSON(val, input)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = interpolateJSON(val, input)
		}
		return out
	default:
		return v
	}
}

func valueByPath(data map[string]interface{}, path string) (interface{}, error) {
	if path == "" {
		return data, nil
	}
	var current interface{} = data
	for _, part := range splitPath(path) {
		if m := arrayIndexRegex.FindStringSubmatch(part); m != nil {
			key, indexStr := m[1], m[2]
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("cannot access key %q on non-object", key)
			}
			arr, ok := obj[key].([]interface{})
			if !ok {
				return nil, fmt.Errorf("cannot index non-array at %q", key)
			}
			idx, valid := validation.ParseArrayIndex(indexStr, len(arr))
			if !valid {
				return nil, fmt.Errorf("invalid or out of bounds array index %q", indexStr)
			}
			current = arr[idx]
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot traverse into non-object at %q", part)
		}
		val, exists := obj[part]
		if !exists {
			return nil, fmt.Errorf("key %q not found", part)
		}
		current = val
	}
	return current, nil
}

func splitPath(path string) []string {
	var parts []string
	var current strings.Builder
	escaped := false
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '\\' && i+1 < len(path) && path[i+1] == '.' {
			current.WriteByte('.')
			i++
			escaped = true
			continue
		}
		if c == '.' && !escaped {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		} else {
			current.WriteByte(c)
		}
		escaped = false
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}
