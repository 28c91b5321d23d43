package values

import (
	"strconv"
	"strings"
)

// Merge layers source over target and returns a new map. Keys holding maps
// on both sides are merged recursively; any other source value, including
// arrays and explicit nulls, replaces the target value. Neither input is
// modified.
func Merge(target, source map[string]any) map[string]any {
	result := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		result[k] = v
	}
	for k, sv := range source {
		tm, tok := asMap(result[k])
		sm, sok := asMap(sv)
		if tok && sok && tm != nil && sm != nil {
			result[k] = Merge(tm, sm)
			continue
		}
		result[k] = sv
	}
	return result
}

// ResolvePath walks a dotted path through nested maps. Segments may carry
// list indexes, e.g. "hosts[0].name".
func ResolvePath(values map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = values
	for _, segment := range strings.Split(path, ".") {
		key, indexes, ok := splitIndexes(segment)
		if !ok {
			return nil, false
		}
		if key != "" {
			m, ok := asMap(current)
			if !ok || m == nil {
				return nil, false
			}
			if current, ok = m[key]; !ok {
				return nil, false
			}
		}
		for _, i := range indexes {
			list, ok := current.([]any)
			if !ok || i < 0 || i >= len(list) {
				return nil, false
			}
			current = list[i]
		}
	}
	return current, true
}

// splitIndexes parses "name[1][2]" into "name" and [1 2]
func splitIndexes(segment string) (string, []int, bool) {
	open := strings.IndexByte(segment, '[')
	if open < 0 {
		return segment, nil, segment != ""
	}
	key := segment[:open]
	rest := segment[open:]
	var indexes []int
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, false
		}
		n, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return "", nil, false
		}
		indexes = append(indexes, n)
		rest = rest[end+1:]
	}
	return key, indexes, true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
