package template

import (
	"sort"
	"strings"
)

// Kind is the built-in template object a reference is rooted at
type Kind string

const (
	KindValues       Kind = "Values"
	KindChart        Kind = "Chart"
	KindRelease      Kind = "Release"
	KindCapabilities Kind = "Capabilities"
	KindTemplate     Kind = "Template"
	KindFiles        Kind = "Files"
)

var kinds = []Kind{KindValues, KindChart, KindRelease, KindCapabilities, KindTemplate, KindFiles}

// Reference is a field reference found inside a {{ ... }} expression
type Reference struct {
	// Kind is the object the path is rooted at
	Kind Kind `json:"kind"`
	// Path is the dotted path after the object (e.g. "image.repository")
	Path string `json:"path"`
	// Start is the byte offset of the reference (including a leading $ sigil)
	Start int `json:"start"`
	// End is the byte offset just past the path
	End int `json:"end"`
	// Default is the literal of an immediately following `| default <literal>`
	Default string `json:"default,omitempty"`
	// HasDefault distinguishes `default ""` from no default
	HasDefault bool `json:"hasDefault,omitempty"`
}

// Token types for parsing
const (
	openBrace   = "{{"
	closeBrace  = "}}"
	trimMarker  = '-'
	rootSigil   = '$'
	defaultPipe = "|"
	defaultFunc = "default"
)

// block is the content span of one expression
type block struct {
	start int
	end   int
}

// Parse extracts every field reference from template text in document order
func Parse(text string) []Reference {
	seen := make(map[int]bool)
	var refs []Reference
	for _, b := range findBlocks(text) {
		for _, ref := range scanBlock(text, b) {
			if seen[ref.Start] {
				continue
			}
			seen[ref.Start] = true
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Start < refs[j].Start })
	return refs
}

// findBlocks isolates every {{ ... }} expression. A "{{" inside an open
// expression opens a nested block which is reported on its own as well, so
// the outer content still covers it. Unterminated expressions are dropped.
func findBlocks(text string) []block {
	var blocks []block
	var open []int
	for pos := 0; pos+1 < len(text); {
		switch text[pos : pos+2] {
		case openBrace:
			pos += 2
			start := pos
			if start < len(text) && text[start] == trimMarker {
				start++
			}
			open = append(open, start)
		case closeBrace:
			if len(open) == 0 {
				pos++
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			end := pos
			if end > start && text[end-1] == trimMarker && (end-1 == start || isWhitespace(text[end-2])) {
				end--
			}
			if end < start {
				end = start
			}
			blocks = append(blocks, block{start: start, end: end})
			pos += 2
		default:
			pos++
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].start < blocks[j].start })
	return blocks
}

// parser walks one block's content looking for object references
type parser struct {
	input string
	pos   int
	end   int
}

func scanBlock(text string, b block) []Reference {
	p := &parser{input: text, pos: b.start, end: b.end}
	return p.parse()
}

func (p *parser) parse() []Reference {
	var refs []Reference
	for p.pos < p.end {
		if ref, ok := p.parseReference(); ok {
			refs = append(refs, ref)
			continue
		}
		p.pos++
	}
	return refs
}

// parseReference tries to read `$?.Kind.path` at the cursor. On success the
// cursor is left after the reference (and after its default, if any).
func (p *parser) parseReference() (Reference, bool) {
	start := p.pos
	dot := p.pos
	if p.current() == rootSigil {
		dot++
	}
	if dot >= p.end || p.input[dot] != '.' {
		return Reference{}, false
	}
	if start > 0 && !isBoundary(p.input[start-1]) {
		return Reference{}, false
	}

	for _, kind := range kinds {
		prefix := "." + string(kind) + "."
		if !strings.HasPrefix(p.input[dot:p.end], prefix) {
			continue
		}
		pathStart := dot + len(prefix)
		pathEnd := p.scanPath(pathStart)
		if pathEnd == pathStart {
			return Reference{}, false
		}
		ref := Reference{
			Kind:  kind,
			Path:  p.input[pathStart:pathEnd],
			Start: start,
			End:   pathEnd,
		}
		p.pos = pathEnd
		if kind == KindValues {
			if value, ok := p.parseDefault(); ok {
				ref.Default = value
				ref.HasDefault = true
			}
		}
		return ref, true
	}
	return Reference{}, false
}

// scanPath returns the end of a dotted/indexed path starting at from. A
// trailing dot is not part of the path.
func (p *parser) scanPath(from int) int {
	pos := from
	lastGood := from
	for pos < p.end {
		ch := p.input[pos]
		switch {
		case isValidPathChar(ch):
			pos++
			lastGood = pos
		case ch == '.' && pos > from && p.input[pos-1] != '.':
			pos++
		case ch == '[' && pos > from:
			close := pos + 1
			for close < p.end && isDigit(p.input[close]) {
				close++
			}
			if close == pos+1 || close >= p.end || p.input[close] != ']' {
				return lastGood
			}
			pos = close + 1
			lastGood = pos
		default:
			return lastGood
		}
	}
	return lastGood
}

// parseDefault reads `| default <literal>` directly after a reference. The
// cursor only moves when a default is found.
func (p *parser) parseDefault() (string, bool) {
	save := p.pos
	p.skipWhitespace()
	if !p.match(defaultPipe) {
		p.pos = save
		return "", false
	}
	p.skipWhitespace()
	if !p.match(defaultFunc) || p.pos >= p.end || !isWhitespace(p.current()) {
		p.pos = save
		return "", false
	}
	p.skipWhitespace()
	value, ok := p.parseLiteral()
	if !ok {
		p.pos = save
		return "", false
	}
	return value, true
}

// parseLiteral handles double-quoted, single-quoted and numeric literals
func (p *parser) parseLiteral() (string, bool) {
	switch p.current() {
	case '"', '\'':
		quote := p.current()
		p.pos++
		var value strings.Builder
		escaped := false
		for p.pos < p.end {
			ch := p.current()
			switch {
			case escaped:
				value.WriteByte(ch)
				escaped = false
			case ch == '\\' && quote == '"':
				escaped = true
			case ch == quote:
				p.pos++
				return value.String(), true
			default:
				value.WriteByte(ch)
			}
			p.pos++
		}
		return "", false // unclosed quote

	default:
		start := p.pos
		if p.current() == '-' {
			p.pos++
		}
		digits := p.pos
		for p.pos < p.end && (isDigit(p.current()) || p.current() == '.') {
			p.pos++
		}
		if p.pos == digits {
			return "", false
		}
		return p.input[start:p.pos], true
	}
}

// Helper methods
func (p *parser) current() byte {
	if p.pos >= p.end {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) match(s string) bool {
	if p.pos+len(s) > p.end {
		return false
	}
	if p.input[p.pos:p.pos+len(s)] == s {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *parser) skipWhitespace() {
	for p.pos < p.end && isWhitespace(p.current()) {
		p.pos++
	}
}

// isBoundary reports whether ch may precede a root object reference. An
// identifier, closing paren or bracket before the dot means the reference is
// a field of something else (e.g. $ctx.Values.x).
func isBoundary(ch byte) bool {
	return !isAlphaNumeric(ch) && ch != '_' && ch != '.' && ch != ')' && ch != ']' && ch != '$'
}

func isValidPathChar(ch byte) bool {
	return isAlphaNumeric(ch) || ch == '-' || ch == '_'
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isAlphaNumeric(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
