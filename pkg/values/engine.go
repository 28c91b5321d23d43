// Package values computes the effective values of a chart or of a subchart
// nested at any depth, and caches the results until the files they were
// computed from change.
package values

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oleksiyp/helmlens/pkg/archive"
	"github.com/oleksiyp/helmlens/pkg/chart"
	"github.com/oleksiyp/helmlens/pkg/debounce"
	"github.com/oleksiyp/helmlens/pkg/vfs"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

// GlobalKey is the root-level section propagated into every subchart
const GlobalKey = "global"

// Resolved is the cached result of resolving one chart against one override
type Resolved struct {
	Defaults     map[string]any `json:"defaults"`
	Overrides    map[string]any `json:"overrides"`
	Merged       map[string]any `json:"merged"`
	Timestamp    time.Time      `json:"timestamp"`
	OverrideFile string         `json:"overrideFile,omitempty"`
}

type valuesEntry struct {
	root     string
	resolved *Resolved
}

// subchartEntry remembers every chart root its result was derived from so
// a change to any of them drops it
type subchartEntry struct {
	roots  []string
	merged map[string]any
}

// Stats reports cache occupancy
type Stats struct {
	Values    int `json:"values"`
	Subcharts int `json:"subcharts"`
}

// Engine resolves and caches chart values. Returned maps are shared with
// the cache and must not be modified.
type Engine struct {
	fs        vfs.FileSystem
	archives  *archive.Store
	scheduler *debounce.Scheduler
	logger    *zap.Logger
	now       func() time.Time

	values    map[string]*valuesEntry
	subcharts map[string]*subchartEntry
	mu        sync.RWMutex
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithScheduler sets the scheduler debounced invalidations go through
func WithScheduler(s *debounce.Scheduler) Option {
	return func(e *Engine) {
		if s != nil {
			e.scheduler = s
		}
	}
}

// WithNow sets the time source for cache timestamps
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a new values engine
func NewEngine(fsys vfs.FileSystem, archives *archive.Store, opts ...Option) *Engine {
	if fsys == nil {
		fsys = vfs.OS{}
	}
	e := &Engine{
		fs:        fsys,
		logger:    zap.NewNop(),
		now:       time.Now,
		values:    make(map[string]*valuesEntry),
		subcharts: make(map[string]*subchartEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	if archives == nil {
		archives = archive.NewStore(fsys, archive.WithLogger(e.logger))
	}
	e.archives = archives
	if e.scheduler == nil {
		e.scheduler = debounce.New(debounce.DefaultDelay)
	}
	return e
}

// Resolve returns the defaults, overrides and merged values of node's own
// files
func (e *Engine) Resolve(ctx context.Context, node *chart.Node, overrideFile string) *Resolved {
	key := node.Root + "::" + overrideFile

	e.mu.RLock()
	entry, ok := e.values[key]
	e.mu.RUnlock()
	if ok {
		return entry.resolved
	}

	defaults := e.ownDefaults(ctx, node)
	overrides := map[string]any{}
	if overrideFile != "" {
		overrides = e.decodeFile(overrideFile)
	}
	resolved := &Resolved{
		Defaults:     defaults,
		Overrides:    overrides,
		Merged:       Merge(defaults, overrides),
		Timestamp:    e.now(),
		OverrideFile: overrideFile,
	}

	e.mu.Lock()
	e.values[key] = &valuesEntry{root: node.Root, resolved: resolved}
	e.mu.Unlock()

	e.logger.Debug("resolved chart values",
		zap.String("root", node.Root),
		zap.String("override", overrideFile))
	return resolved
}

// GetValues returns the merged values of node's defaults and overrideFile
func (e *Engine) GetValues(ctx context.Context, node *chart.Node, overrideFile string) map[string]any {
	return e.Resolve(ctx, node, overrideFile).Merged
}

// GetValuesForSubchart returns the effective values of node as its root
// chart renders it with rootOverrideFile selected. Layers, lowest first: the
// node's own defaults, each intermediate ancestor's defaults under the
// remaining embedding keys, the root's merged values under all embedding
// keys, and finally the root's global section.
func (e *Engine) GetValuesForSubchart(ctx context.Context, node *chart.Node, rootOverrideFile string) map[string]any {
	chain := chart.BuildAncestorChain(node)
	if len(chain) < 2 {
		return e.GetValues(ctx, node, rootOverrideFile)
	}

	key := chart.BuildCacheKey(node, rootOverrideFile)
	e.mu.RLock()
	entry, ok := e.subcharts[key]
	e.mu.RUnlock()
	if ok {
		return entry.merged
	}

	keys := chart.EmbeddingKeys(chain)
	result := e.ownDefaults(ctx, node)
	for level := len(chain) - 2; level >= 1; level-- {
		defaults := e.ownDefaults(ctx, chain[level].Node)
		result = Merge(result, walk(defaults, keys[level:]))
	}

	root := e.GetValues(ctx, chain[0].Node, rootOverrideFile)
	result = Merge(result, walk(root, keys))
	if global, ok := asMap(root[GlobalKey]); ok && len(global) > 0 {
		result = Merge(result, map[string]any{GlobalKey: global})
	}

	roots := make([]string, 0, len(chain))
	for _, entry := range chain {
		roots = append(roots, entry.Node.Root)
	}
	e.mu.Lock()
	e.subcharts[key] = &subchartEntry{roots: roots, merged: result}
	e.mu.Unlock()

	e.logger.Debug("resolved subchart values",
		zap.String("key", key),
		zap.Int("depth", len(chain)-1))
	return result
}

// InvalidateCache drops chartRoot's entries once it has been quiet for the
// debounce delay
func (e *Engine) InvalidateCache(chartRoot string) {
	chartRoot = filepath.Clean(chartRoot)
	e.scheduler.Schedule(chartRoot, func() {
		e.invalidate(chartRoot)
	})
}

// InvalidateCacheImmediate drops chartRoot's entries now, together with
// every subchart entry derived from a chart under chartRoot
func (e *Engine) InvalidateCacheImmediate(chartRoot string) {
	chartRoot = filepath.Clean(chartRoot)
	e.scheduler.Cancel(chartRoot)
	e.invalidate(chartRoot)
}

// ClearAll drops every cached result and pending invalidation
func (e *Engine) ClearAll() {
	e.scheduler.CancelAll()
	e.mu.Lock()
	e.values = make(map[string]*valuesEntry)
	e.subcharts = make(map[string]*subchartEntry)
	e.mu.Unlock()
	e.archives.Clear()
}

// PendingInvalidations returns the chart roots awaiting debounced invalidation
func (e *Engine) PendingInvalidations() []string {
	return e.scheduler.Pending()
}

// Stats returns the number of cached entries
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Values: len(e.values), Subcharts: len(e.subcharts)}
}

// Close cancels pending invalidations
func (e *Engine) Close() {
	e.scheduler.Stop()
}

func (e *Engine) invalidate(chartRoot string) {
	e.mu.Lock()
	removedValues, removedSubcharts := 0, 0
	for key, entry := range e.values {
		if withinDir(entry.root, chartRoot) {
			delete(e.values, key)
			removedValues++
		}
	}
	for key, entry := range e.subcharts {
		for _, root := range entry.roots {
			if withinDir(root, chartRoot) {
				delete(e.subcharts, key)
				removedSubcharts++
				break
			}
		}
	}
	e.mu.Unlock()
	e.archives.InvalidateDirectory(chartRoot)

	e.logger.Debug("invalidated values cache",
		zap.String("root", chartRoot),
		zap.Int("values", removedValues),
		zap.Int("subcharts", removedSubcharts))
}

// ownDefaults decodes the default values of a chart directory or archive
func (e *Engine) ownDefaults(ctx context.Context, node *chart.Node) map[string]any {
	if node.IsArchive {
		member, content, ok := e.archives.DefaultValues(ctx, node.ArchivePath)
		if !ok {
			return map[string]any{}
		}
		return e.decode(node.ArchivePath+"!"+member, []byte(content))
	}
	if node.ValuesPath == "" {
		return map[string]any{}
	}
	return e.decodeFile(node.ValuesPath)
}

func (e *Engine) decodeFile(path string) map[string]any {
	data, err := e.fs.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			e.logger.Debug("failed to read values file",
				zap.String("file", path),
				zap.Error(err))
		}
		return map[string]any{}
	}
	return e.decode(path, data)
}

// decode parses a values document. Malformed input is logged and yields
// an empty map.
func (e *Engine) decode(source string, data []byte) map[string]any {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		e.logger.Warn("ignoring malformed values file",
			zap.String("file", source),
			zap.Error(err))
		return map[string]any{}
	}
	if m == nil {
		return map[string]any{}
	}
	return m
}

// walk follows keys through nested maps; a missing step yields an empty map
func walk(m map[string]any, keys []string) map[string]any {
	current := m
	for _, key := range keys {
		next, ok := asMap(current[key])
		if !ok || next == nil {
			return map[string]any{}
		}
		current = next
	}
	return current
}

func withinDir(p, dir string) bool {
	if p == dir {
		return true
	}
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	return strings.HasPrefix(p, dir+string(filepath.Separator))
}
