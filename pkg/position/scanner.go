package position

import "strings"

// FindPosition locates the line defining a dotted path in YAML-like text
// without parsing it. Line and column are zero-based; the column is the
// key's indentation.
//
// The scan tracks indentation only. Keys inside lists and later documents of
// a multi-document file are not found.
func FindPosition(text, path string) (line, column int, ok bool) {
	if path == "" {
		return 0, 0, false
	}
	segments := strings.Split(path, ".")
	next := 0
	baseline := -1

	for i, raw := range strings.Split(text, "\n") {
		content := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimLeft(content, " \t")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indent := len(content) - len(trimmed)

		// A dedent back to the matched parent's level means the parent
		// block ended without the remaining segments.
		if next > 0 && indent <= baseline {
			return 0, 0, false
		}
		if !hasKey(trimmed, segments[next]) {
			continue
		}
		if next == len(segments)-1 {
			return i, indent, true
		}
		baseline = indent
		next++
	}
	return 0, 0, false
}

// hasKey reports whether line starts with the mapping key, plain or quoted
func hasKey(line, key string) bool {
	if key == "" {
		return false
	}
	for _, candidate := range []string{key, `"` + key + `"`, `'` + key + `'`} {
		rest, found := strings.CutPrefix(line, candidate+":")
		if found && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
			return true
		}
	}
	return false
}

// LineColumn converts a byte offset into a zero-based line and column
func LineColumn(text string, offset int) (line, column int) {
	if offset > len(text) {
		offset = len(text)
	}
	if offset < 0 {
		offset = 0
	}
	before := text[:offset]
	line = strings.Count(before, "\n")
	column = offset - (strings.LastIndexByte(before, '\n') + 1)
	return line, column
}
