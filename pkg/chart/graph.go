// Package chart discovers charts, their embedded subcharts and the ancestor
// chain connecting a nested subchart to its root chart.
//
// Every lookup re-derives nodes from the filesystem. Filesystem errors are
// treated as absence: a lookup that cannot read a directory reports no chart
// or an empty list instead of failing.
package chart

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/oleksiyp/helmlens/pkg/archive"
	"github.com/oleksiyp/helmlens/pkg/chartmeta"
	"github.com/oleksiyp/helmlens/pkg/vfs"
	"go.uber.org/zap"
)

const (
	chartsDir    = "charts"
	valuesSubdir = "values"
)

// DefaultOverridePatterns are matched against file names in a chart root
var DefaultOverridePatterns = []string{"values*", "*.values.*", "*-values.*", "values.*.*"}

var defaultValuesNames = []string{"values.yaml", "values.yml"}

// Graph answers chart-structure questions against a filesystem
type Graph struct {
	fs            vfs.FileSystem
	archives      *archive.Store
	logger        *zap.Logger
	workspaceRoot string
	extraPatterns []string
	patterns      []glob.Glob
}

// Option configures a Graph
type Option func(*Graph)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithWorkspaceRoot bounds upward chart detection
func WithWorkspaceRoot(root string) Option {
	return func(g *Graph) {
		if root != "" {
			g.workspaceRoot = filepath.Clean(root)
		}
	}
}

// WithOverridePatterns adds file name patterns recognized as override files
func WithOverridePatterns(patterns ...string) Option {
	return func(g *Graph) {
		g.extraPatterns = append(g.extraPatterns, patterns...)
	}
}

// NewGraph creates a new chart graph. Invalid extra patterns are logged and
// ignored; use ValidatePatterns to reject them up front.
func NewGraph(fsys vfs.FileSystem, archives *archive.Store, opts ...Option) *Graph {
	if fsys == nil {
		fsys = vfs.OS{}
	}
	g := &Graph{
		fs:     fsys,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if archives == nil {
		archives = archive.NewStore(fsys, archive.WithLogger(g.logger))
	}
	g.archives = archives

	for _, pattern := range append(append([]string{}, DefaultOverridePatterns...), g.extraPatterns...) {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			g.logger.Warn("ignoring invalid override pattern",
				zap.String("pattern", pattern),
				zap.Error(err))
			continue
		}
		g.patterns = append(g.patterns, compiled)
	}
	return g
}

// ValidatePatterns reports the first pattern that does not compile
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := glob.Compile(pattern); err != nil {
			return err
		}
	}
	return nil
}

// Archives returns the archive store the graph reads packaged charts with
func (g *Graph) Archives() *archive.Store {
	return g.archives
}

// Detect finds the chart owning location by walking upward from its
// directory. The walk stops at the workspace root or the filesystem root.
func (g *Graph) Detect(ctx context.Context, location string) (*Node, bool) {
	location = filepath.Clean(location)
	dir := location
	if !vfs.IsDir(g.fs, location) {
		dir = filepath.Dir(location)
	}
	if g.workspaceRoot != "" && !withinDir(dir, g.workspaceRoot) {
		return nil, false
	}

	for {
		if ctx.Err() != nil {
			return nil, false
		}
		if isChartDir(g.fs, dir) {
			node := g.dirNode(ctx, dir)
			g.attachParent(ctx, node, map[string]bool{})
			g.logger.Debug("detected chart",
				zap.String("root", node.Root),
				zap.Bool("subchart", node.IsSubchart))
			return node, true
		}
		if dir == g.workspaceRoot {
			return nil, false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, false
		}
		dir = parent
	}
}

// DiscoverSubcharts lists the units under chartRoot/charts: directories with
// Chart.yaml and packaged archives, sorted by name.
func (g *Graph) DiscoverSubcharts(ctx context.Context, chartRoot string) []Subchart {
	if archive.IsArchive(chartRoot) {
		return nil
	}
	dir := filepath.Join(chartRoot, chartsDir)
	entries, err := g.fs.ReadDir(dir)
	if err != nil {
		return nil
	}
	meta, _ := chartmeta.Load(g.fs, filepath.Join(chartRoot, chartmeta.FileName))

	var subcharts []Subchart
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		path := filepath.Join(dir, entry.Name())
		var sc Subchart
		switch {
		case entry.IsDir():
			if !isChartDir(g.fs, path) {
				continue
			}
			sc = Subchart{Name: entry.Name(), Root: path}
		case archive.IsArchive(entry.Name()):
			sc = Subchart{
				Name:        g.archives.ChartName(ctx, path),
				Root:        path,
				IsArchive:   true,
				ArchivePath: path,
			}
		default:
			continue
		}
		if dep, ok := meta.FindDependency(sc.Name); ok {
			sc.Alias = dep.Alias
			sc.Condition = dep.Condition
		}
		subcharts = append(subcharts, sc)
	}

	sort.SliceStable(subcharts, func(i, j int) bool {
		if subcharts[i].Name != subcharts[j].Name {
			return subcharts[i].Name < subcharts[j].Name
		}
		return subcharts[i].Root < subcharts[j].Root
	})
	return subcharts
}

// FindOverrideFiles lists candidate override values files of a chart: YAML
// files in the root matching an override pattern, and any YAML file under
// the values/ subdirectory. The default values file is excluded.
func (g *Graph) FindOverrideFiles(ctx context.Context, chartRoot string) []string {
	if archive.IsArchive(chartRoot) {
		return nil
	}
	entries, err := g.fs.ReadDir(chartRoot)
	if err != nil {
		return nil
	}
	defaults := defaultValuesPath(g.fs, chartRoot)

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(chartRoot, entry.Name())
		if path == defaults || !g.matchesOverride(entry.Name()) {
			continue
		}
		files = append(files, path)
	}
	files = append(files, g.yamlFilesUnder(ctx, filepath.Join(chartRoot, valuesSubdir))...)

	sort.Strings(files)
	return files
}

// SubchartNode materializes the node for a subchart of parent
func (g *Graph) SubchartNode(ctx context.Context, parent *Node, sc Subchart) *Node {
	if sc.IsArchive {
		return &Node{
			Root:        sc.Root,
			IsSubchart:  true,
			Key:         sc.Key(),
			Parent:      parent,
			IsArchive:   true,
			ArchivePath: sc.ArchivePath,
		}
	}
	node := g.dirNode(ctx, sc.Root)
	node.IsSubchart = true
	node.Key = sc.Key()
	node.Parent = parent
	return node
}

// FindCharts returns every directory under root containing Chart.yaml.
// Hidden directories are skipped. Cancellation returns what was found so far.
func (g *Graph) FindCharts(ctx context.Context, root string) []string {
	var charts []string
	var walk func(dir string)
	walk = func(dir string) {
		if ctx.Err() != nil {
			return
		}
		if isChartDir(g.fs, dir) {
			charts = append(charts, dir)
		}
		entries, err := g.fs.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			walk(filepath.Join(dir, entry.Name()))
		}
	}
	walk(filepath.Clean(root))
	sort.Strings(charts)
	return charts
}

// dirNode builds the node for a chart directory without classifying it
func (g *Graph) dirNode(ctx context.Context, dir string) *Node {
	return &Node{
		Root:          dir,
		MetadataPath:  filepath.Join(dir, chartmeta.FileName),
		ValuesPath:    defaultValuesPath(g.fs, dir),
		OverrideFiles: g.FindOverrideFiles(ctx, dir),
		Subcharts:     g.DiscoverSubcharts(ctx, dir),
	}
}

// attachParent classifies node as a subchart when it sits in a parent's
// charts/ directory, then classifies the parent the same way. A directory
// seen twice ends the recursion and is left as a root.
func (g *Graph) attachParent(ctx context.Context, node *Node, visited map[string]bool) {
	visited[node.Root] = true

	chartsPath := filepath.Dir(node.Root)
	if filepath.Base(chartsPath) != chartsDir {
		return
	}
	parentDir := filepath.Dir(chartsPath)
	if parentDir == chartsPath || !isChartDir(g.fs, parentDir) {
		return
	}
	if visited[parentDir] {
		g.logger.Warn("chart ancestry loops, truncating",
			zap.String("root", node.Root),
			zap.String("parent", parentDir))
		return
	}

	name := filepath.Base(node.Root)
	meta, _ := chartmeta.Load(g.fs, filepath.Join(parentDir, chartmeta.FileName))
	key := name
	if dep, ok := meta.FindDependency(name); ok {
		key = dep.Key()
	}

	parent := g.dirNode(ctx, parentDir)
	node.IsSubchart = true
	node.Key = key
	node.Parent = parent
	g.attachParent(ctx, parent, visited)
}

func (g *Graph) matchesOverride(name string) bool {
	for _, pattern := range g.patterns {
		if pattern.Match(name) {
			return true
		}
	}
	return false
}

func (g *Graph) yamlFilesUnder(ctx context.Context, dir string) []string {
	entries, err := g.fs.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if ctx.Err() != nil {
			return files
		}
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			files = append(files, g.yamlFilesUnder(ctx, path)...)
			continue
		}
		if isYAML(entry.Name()) {
			files = append(files, path)
		}
	}
	return files
}

// BuildAncestorChain returns the chain from the root chart down to node
func BuildAncestorChain(node *Node) []ChainEntry {
	var chain []ChainEntry
	visited := make(map[*Node]bool)
	for n := node; n != nil && !visited[n]; n = n.Parent {
		visited[n] = true
		chain = append(chain, ChainEntry{Node: n, Key: n.Key})
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if len(chain) > 0 {
		chain[0].Key = ""
	}
	return chain
}

// EmbeddingKeys returns the keys of every chain level below the root
func EmbeddingKeys(chain []ChainEntry) []string {
	if len(chain) < 2 {
		return nil
	}
	keys := make([]string, 0, len(chain)-1)
	for _, entry := range chain[1:] {
		keys = append(keys, entry.Key)
	}
	return keys
}

// BuildCacheKey identifies the values of node resolved against the root
// chart's overrideFile. Two subcharts with the same directory name under
// different parents get different keys.
func BuildCacheKey(node *Node, overrideFile string) string {
	chain := BuildAncestorChain(node)
	if len(chain) == 0 {
		return "::" + overrideFile
	}
	key := chain[0].Node.Root
	if keys := EmbeddingKeys(chain); len(keys) > 0 {
		key += "/" + strings.Join(keys, "/")
	}
	return key + "::" + overrideFile
}

// RootOf returns the topmost ancestor of node
func RootOf(node *Node) *Node {
	chain := BuildAncestorChain(node)
	if len(chain) == 0 {
		return nil
	}
	return chain[0].Node
}

func isChartDir(fsys vfs.FileSystem, dir string) bool {
	return vfs.IsFile(fsys, filepath.Join(dir, chartmeta.FileName))
}

// defaultValuesPath prefers values.yaml, then values.yml. A chart with
// neither still reports values.yaml so reads fail as absence.
func defaultValuesPath(fsys vfs.FileSystem, dir string) string {
	for _, name := range defaultValuesNames {
		path := filepath.Join(dir, name)
		if vfs.IsFile(fsys, path) {
			return path
		}
	}
	return filepath.Join(dir, defaultValuesNames[0])
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func withinDir(p, dir string) bool {
	if p == dir {
		return true
	}
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	return strings.HasPrefix(p, dir+string(filepath.Separator))
}
