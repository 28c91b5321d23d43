// Package position finds where a values path is defined: in the selected
// override file, a chart's own defaults, an ancestor's defaults or a
// packaged subchart.
package position

import (
	"context"
	"strings"

	"github.com/oleksiyp/helmlens/pkg/archive"
	"github.com/oleksiyp/helmlens/pkg/chart"
	"github.com/oleksiyp/helmlens/pkg/template"
	"github.com/oleksiyp/helmlens/pkg/values"
	"github.com/oleksiyp/helmlens/pkg/vfs"
	"go.uber.org/zap"
)

// Source tags which layer a position was found in
type Source string

const (
	SourceOverride      Source = "override"
	SourceDefault       Source = "default"
	SourceParentDefault Source = "parent-default"
	SourceInlineDefault Source = "inline-default"
)

// ValuePosition is a zero-based location of a values definition. Positions
// inside packaged charts carry the archive and member paths.
type ValuePosition struct {
	File          string `json:"file"`
	ArchivePath   string `json:"archivePath,omitempty"`
	ArchiveMember string `json:"archiveMember,omitempty"`
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	Source        Source `json:"source"`
}

// Resolver searches values files for path definitions
type Resolver struct {
	fs       vfs.FileSystem
	archives *archive.Store
	logger   *zap.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a new position resolver
func NewResolver(fsys vfs.FileSystem, archives *archive.Store, opts ...Option) *Resolver {
	if fsys == nil {
		fsys = vfs.OS{}
	}
	r := &Resolver{
		fs:     fsys,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if archives == nil {
		archives = archive.NewStore(fsys, archive.WithLogger(r.logger))
	}
	r.archives = archives
	return r
}

// FindInFile scans one values file
func (r *Resolver) FindInFile(file, path string, source Source) (ValuePosition, bool) {
	if file == "" {
		return ValuePosition{}, false
	}
	data, err := r.fs.ReadFile(file)
	if err != nil {
		return ValuePosition{}, false
	}
	line, column, ok := FindPosition(string(data), path)
	if !ok {
		return ValuePosition{}, false
	}
	return ValuePosition{File: file, Line: line, Column: column, Source: source}, true
}

// FindInArchive scans the default values member of a packaged chart
func (r *Resolver) FindInArchive(ctx context.Context, archivePath, path string, source Source) (ValuePosition, bool) {
	member, content, ok := r.archives.DefaultValues(ctx, archivePath)
	if !ok {
		return ValuePosition{}, false
	}
	line, column, ok := FindPosition(content, path)
	if !ok {
		return ValuePosition{}, false
	}
	return ValuePosition{
		File:          archivePath,
		ArchivePath:   archivePath,
		ArchiveMember: member,
		Line:          line,
		Column:        column,
		Source:        source,
	}, true
}

// FindInChain looks for path in a chart's override file, then its defaults
func (r *Resolver) FindInChain(ctx context.Context, node *chart.Node, overrideFile, path string) (ValuePosition, bool) {
	if pos, ok := r.FindInFile(overrideFile, path, SourceOverride); ok {
		return pos, true
	}
	return r.findInDefaults(ctx, node, path, SourceDefault)
}

// FindInChainNested looks for the definition of a subchart's path from the
// root chart down. At every level the path is prefixed with the embedding
// keys below that level; the root override file is probed first, then each
// level's defaults. Paths under global also match the root's top level.
func (r *Resolver) FindInChainNested(ctx context.Context, node *chart.Node, rootOverrideFile, path string) (ValuePosition, bool) {
	chain := chart.BuildAncestorChain(node)
	if len(chain) < 2 {
		return r.FindInChain(ctx, node, rootOverrideFile, path)
	}
	root := chain[0].Node
	keys := chart.EmbeddingKeys(chain)

	if path == values.GlobalKey || strings.HasPrefix(path, values.GlobalKey+".") {
		if pos, ok := r.FindInFile(rootOverrideFile, path, SourceOverride); ok {
			return pos, true
		}
		if pos, ok := r.findInDefaults(ctx, root, path, SourceParentDefault); ok {
			return pos, true
		}
	}

	for level, entry := range chain {
		prefixed := path
		if remaining := keys[level:]; len(remaining) > 0 {
			prefixed = strings.Join(remaining, ".") + "." + path
		}
		if level == 0 {
			if pos, ok := r.FindInFile(rootOverrideFile, prefixed, SourceOverride); ok {
				return pos, true
			}
		}
		source := SourceParentDefault
		if level == len(chain)-1 {
			source = SourceDefault
		}
		if pos, ok := r.findInDefaults(ctx, entry.Node, prefixed, source); ok {
			return pos, true
		}
	}

	r.logger.Debug("value position not found",
		zap.String("root", root.Root),
		zap.String("path", path))
	return ValuePosition{}, false
}

func (r *Resolver) findInDefaults(ctx context.Context, node *chart.Node, path string, source Source) (ValuePosition, bool) {
	if node.IsArchive {
		return r.FindInArchive(ctx, node.ArchivePath, path, source)
	}
	return r.FindInFile(node.ValuesPath, path, source)
}

// InlineDefaultPosition returns the location of the literal in a reference's
// `| default <literal>` clause
func InlineDefaultPosition(file, text string, ref template.Reference) (ValuePosition, bool) {
	if !ref.HasDefault || ref.End > len(text) {
		return ValuePosition{}, false
	}
	i := strings.Index(text[ref.End:], "default")
	if i < 0 {
		return ValuePosition{}, false
	}
	offset := ref.End + i + len("default")
	for offset < len(text) && (text[offset] == ' ' || text[offset] == '\t') {
		offset++
	}
	line, column := LineColumn(text, offset)
	return ValuePosition{File: file, Line: line, Column: column, Source: SourceInlineDefault}, true
}
