package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindPosition(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		path   string
		line   int
		column int
		ok     bool
	}{
		{
			name:   "nested key",
			text:   "replicaCount: 1\nimage:\n  tag: latest",
			path:   "image.tag",
			line:   2,
			column: 2,
			ok:     true,
		},
		{
			name: "key never defined",
			text: "image:\n  tag: latest",
			path: "image.repository",
			ok:   false,
		},
		{
			name:   "top-level key",
			text:   "replicaCount: 1\nimage:\n  tag: latest",
			path:   "replicaCount",
			line:   0,
			column: 0,
			ok:     true,
		},
		{
			name:   "blank lines and comments are skipped",
			text:   "# defaults\n\nservice:\n\n  # the port\n  port: 80\n",
			path:   "service.port",
			line:   5,
			column: 2,
			ok:     true,
		},
		{
			name: "dedent aborts before a later same-named key",
			text: "image:\n  tag: latest\nsidecar:\n  repository: busybox\n",
			path: "image.repository",
			ok:   false,
		},
		{
			name:   "deeper nesting",
			text:   "a:\n  b:\n    c:\n      d: 1\n",
			path:   "a.b.c.d",
			line:   3,
			column: 6,
			ok:     true,
		},
		{
			name:   "first segment at any indentation",
			text:   "wrapper:\n    image:\n      tag: x\n",
			path:   "image.tag",
			line:   2,
			column: 6,
			ok:     true,
		},
		{
			name:   "quoted keys",
			text:   "\"image\":\n  'tag': latest\n",
			path:   "image.tag",
			line:   1,
			column: 2,
			ok:     true,
		},
		{
			name: "prefix of a longer key does not match",
			text: "imageTag: x\nimage_tag: y\n",
			path: "image",
			ok:   false,
		},
		{
			name:   "windows line endings",
			text:   "image:\r\n  tag: latest\r\n",
			path:   "image.tag",
			line:   1,
			column: 2,
			ok:     true,
		},
		{
			name: "list items are not handled",
			text: "hosts:\n  - name: a\n",
			path: "hosts.name",
			ok:   false,
		},
		{
			name: "empty path",
			text: "a: 1\n",
			path: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, column, ok := FindPosition(tt.text, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.line, line)
				assert.Equal(t, tt.column, column)
			}
		})
	}
}

func TestLineColumn(t *testing.T) {
	text := "first\nsecond line\nthird"

	tests := []struct {
		offset int
		line   int
		column int
	}{
		{offset: 0, line: 0, column: 0},
		{offset: 3, line: 0, column: 3},
		{offset: 6, line: 1, column: 0},
		{offset: 13, line: 1, column: 7},
		{offset: 100, line: 2, column: 5},
		{offset: -1, line: 0, column: 0},
	}
	for _, tt := range tests {
		line, column := LineColumn(text, tt.offset)
		assert.Equal(t, tt.line, line, "offset %d", tt.offset)
		assert.Equal(t, tt.column, column, "offset %d", tt.offset)
	}
}
