package chart

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/oleksiyp/helmlens/internal/testutil"
	"github.com/oleksiyp/helmlens/pkg/archive"
	"github.com/oleksiyp/helmlens/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appChart = `apiVersion: v2
name: app
version: 1.0.0
dependencies:
  - name: backend
    version: 0.1.0
    alias: api
  - name: redis
    version: 17.0.0
    alias: cache
    condition: cache.enabled
`

const backendChart = `apiVersion: v2
name: backend
version: 0.1.0
dependencies:
  - name: worker
    version: 0.1.0
    alias: jobs
`

// writeAppChart lays out app -> backend (alias api) -> worker (alias jobs)
// plus a packaged redis subchart (alias cache).
func writeAppChart(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "app")
	testutil.WriteFiles(t, root, map[string]string{
		"Chart.yaml":                  appChart,
		"values.yaml":                 "replicaCount: 1\n",
		"values-prod.yaml":            "replicaCount: 3\n",
		"staging.values.yaml":         "replicaCount: 2\n",
		"values.dev.yaml":             "replicaCount: 1\n",
		"prod-values.yml":             "replicaCount: 5\n",
		"other.yaml":                  "unrelated: true\n",
		"README.md":                   "# app\n",
		"values/extra.yaml":           "extra: true\n",
		"values/nested/more.yml":      "more: true\n",
		"values/notes.txt":            "not yaml\n",
		"charts/notachart/README.md":  "nothing here\n",
		"charts/backend/Chart.yaml":   backendChart,
		"charts/backend/values.yaml":  "port: 8080\n",
		"charts/backend/charts/worker/Chart.yaml":           "apiVersion: v2\nname: worker\nversion: 0.1.0\n",
		"charts/backend/charts/worker/values.yaml":          "config:\n  setting: default\n",
		"charts/backend/charts/worker/templates/deploy.yaml": "setting: {{ .Values.config.setting }}\n",
	})
	testutil.WriteChartArchive(t, filepath.Join(root, "charts", "redis-17.0.0.tgz"), map[string]string{
		"redis/Chart.yaml":  "apiVersion: v2\nname: redis\nversion: 17.0.0\n",
		"redis/values.yaml": "port: 6379\n",
	})
	return root
}

func newTestGraph(opts ...Option) *Graph {
	return NewGraph(vfs.OS{}, archive.NewStore(vfs.OS{}), opts...)
}

func TestDetectNestedSubchart(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph(WithWorkspaceRoot(filepath.Dir(root)))

	worker := filepath.Join(root, "charts", "backend", "charts", "worker")
	node, ok := g.Detect(context.Background(), filepath.Join(worker, "templates", "deploy.yaml"))
	require.True(t, ok)

	assert.Equal(t, worker, node.Root)
	assert.Equal(t, filepath.Join(worker, "Chart.yaml"), node.MetadataPath)
	assert.Equal(t, filepath.Join(worker, "values.yaml"), node.ValuesPath)
	assert.True(t, node.IsSubchart)
	assert.Equal(t, "jobs", node.Key)

	require.NotNil(t, node.Parent)
	assert.Equal(t, filepath.Join(root, "charts", "backend"), node.Parent.Root)
	assert.True(t, node.Parent.IsSubchart)
	assert.Equal(t, "api", node.Parent.Key)

	require.NotNil(t, node.Parent.Parent)
	assert.Equal(t, root, node.Parent.Parent.Root)
	assert.False(t, node.Parent.Parent.IsSubchart)
	assert.Empty(t, node.Parent.Parent.Key)
	assert.Nil(t, node.Parent.Parent.Parent)
}

func TestDetectFromDirectory(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph(WithWorkspaceRoot(filepath.Dir(root)))

	node, ok := g.Detect(context.Background(), root)
	require.True(t, ok)
	assert.Equal(t, root, node.Root)
	assert.False(t, node.IsSubchart)
	assert.Len(t, node.Subcharts, 2)
}

func TestDetectNotFound(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{"src/main.go": "package main\n"})
	g := newTestGraph(WithWorkspaceRoot(dir))

	_, ok := g.Detect(context.Background(), filepath.Join(dir, "src", "main.go"))
	assert.False(t, ok)
}

func TestDetectStopsAtWorkspaceRoot(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"Chart.yaml":       "name: outer\n",
		"ws/docs/notes.md": "notes\n",
	})
	g := newTestGraph(WithWorkspaceRoot(filepath.Join(dir, "ws")))

	_, ok := g.Detect(context.Background(), filepath.Join(dir, "ws", "docs", "notes.md"))
	assert.False(t, ok)

	_, ok = g.Detect(context.Background(), filepath.Join(dir, "Chart.yaml"))
	assert.False(t, ok, "locations outside the workspace are not resolved")
}

func TestDetectCancelled(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := g.Detect(ctx, root)
	assert.False(t, ok)
}

func TestSubchartKeyFallsBackToDirectoryName(t *testing.T) {
	root := filepath.Join(t.TempDir(), "app")
	testutil.WriteFiles(t, root, map[string]string{
		"Chart.yaml":                 "name: app\n",
		"charts/common/Chart.yaml":   "name: common\n",
		"charts/common/values.yaml":  "a: 1\n",
	})
	g := newTestGraph()

	node, ok := g.Detect(context.Background(), filepath.Join(root, "charts", "common", "values.yaml"))
	require.True(t, ok)
	assert.True(t, node.IsSubchart)
	assert.Equal(t, "common", node.Key)
}

func TestChartsDirWithoutParentChartIsNotSubchart(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"charts/standalone/Chart.yaml": "name: standalone\n",
	})
	g := newTestGraph(WithWorkspaceRoot(dir))

	node, ok := g.Detect(context.Background(), filepath.Join(dir, "charts", "standalone"))
	require.True(t, ok)
	assert.False(t, node.IsSubchart)
	assert.Nil(t, node.Parent)
}

func TestDiscoverSubcharts(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph()

	subcharts := g.DiscoverSubcharts(context.Background(), root)
	require.Len(t, subcharts, 2)

	assert.Equal(t, Subchart{
		Name:  "backend",
		Alias: "api",
		Root:  filepath.Join(root, "charts", "backend"),
	}, subcharts[0])
	assert.Equal(t, "api", subcharts[0].Key())

	archivePath := filepath.Join(root, "charts", "redis-17.0.0.tgz")
	assert.Equal(t, Subchart{
		Name:        "redis",
		Alias:       "cache",
		Root:        archivePath,
		Condition:   "cache.enabled",
		IsArchive:   true,
		ArchivePath: archivePath,
	}, subcharts[1])
}

func TestDiscoverSubchartsMissingDirectory(t *testing.T) {
	g := newTestGraph()
	assert.Empty(t, g.DiscoverSubcharts(context.Background(), filepath.Join(t.TempDir(), "missing")))
}

func TestFindOverrideFiles(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph()

	files := g.FindOverrideFiles(context.Background(), root)
	assert.Equal(t, []string{
		filepath.Join(root, "prod-values.yml"),
		filepath.Join(root, "staging.values.yaml"),
		filepath.Join(root, "values-prod.yaml"),
		filepath.Join(root, "values.dev.yaml"),
		filepath.Join(root, "values", "extra.yaml"),
		filepath.Join(root, "values", "nested", "more.yml"),
	}, files)
}

func TestFindOverrideFilesExtraPatterns(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph(WithOverridePatterns("other.*"))

	files := g.FindOverrideFiles(context.Background(), root)
	assert.Contains(t, files, filepath.Join(root, "other.yaml"))
}

func TestValidatePatterns(t *testing.T) {
	assert.NoError(t, ValidatePatterns([]string{"env-*.yaml", "*.values.*"}))
	assert.Error(t, ValidatePatterns([]string{"values[.yaml"}))
}

func TestSubchartNodeForArchive(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph()
	ctx := context.Background()

	parent, ok := g.Detect(ctx, root)
	require.True(t, ok)

	node := g.SubchartNode(ctx, parent, parent.Subcharts[1])
	assert.True(t, node.IsArchive)
	assert.True(t, node.IsSubchart)
	assert.Equal(t, "cache", node.Key)
	assert.Equal(t, filepath.Join(root, "charts", "redis-17.0.0.tgz"), node.ArchivePath)
	assert.Same(t, parent, node.Parent)
	assert.Empty(t, node.ValuesPath)
}

func TestBuildAncestorChainAndCacheKey(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph()

	node, ok := g.Detect(context.Background(), filepath.Join(root, "charts", "backend", "charts", "worker"))
	require.True(t, ok)

	chain := BuildAncestorChain(node)
	require.Len(t, chain, 3)
	assert.Equal(t, root, chain[0].Node.Root)
	assert.Empty(t, chain[0].Key)
	assert.Equal(t, "api", chain[1].Key)
	assert.Equal(t, "jobs", chain[2].Key)
	assert.Same(t, node, chain[2].Node)

	assert.Equal(t, []string{"api", "jobs"}, EmbeddingKeys(chain))
	assert.Equal(t, root+"/api/jobs::"+"prod.yaml", BuildCacheKey(node, "prod.yaml"))
	assert.Equal(t, root+"::", BuildCacheKey(chain[0].Node, ""))
	assert.Same(t, chain[0].Node, RootOf(node))
}

func TestCacheKeysDoNotCollide(t *testing.T) {
	root := &Node{Root: "/app"}
	first := &Node{Root: "/app/charts/a/charts/common", Key: "common", IsSubchart: true,
		Parent: &Node{Root: "/app/charts/a", Key: "a", IsSubchart: true, Parent: root}}
	second := &Node{Root: "/app/charts/b/charts/common", Key: "common", IsSubchart: true,
		Parent: &Node{Root: "/app/charts/b", Key: "b", IsSubchart: true, Parent: root}}

	assert.NotEqual(t, BuildCacheKey(first, ""), BuildCacheKey(second, ""))
	assert.NotEqual(t, BuildCacheKey(first, "x.yaml"), BuildCacheKey(first, "y.yaml"))
}

func TestBuildAncestorChainTerminatesOnCycle(t *testing.T) {
	a := &Node{Root: "/a", Key: "a"}
	b := &Node{Root: "/b", Key: "b", Parent: a}
	a.Parent = b

	chain := BuildAncestorChain(a)
	assert.Len(t, chain, 2)
	assert.Nil(t, BuildAncestorChain(nil))
}

func TestTree(t *testing.T) {
	root := writeAppChart(t)
	g := newTestGraph()
	ctx := context.Background()

	node, ok := g.Detect(ctx, root)
	require.True(t, ok)

	tree, err := g.Tree(ctx, node)
	require.NoError(t, err)
	assert.Equal(t, 4, tree.Len())

	var visited []string
	require.NoError(t, tree.Walk(func(n *Node, depth int) {
		visited = append(visited, fmt.Sprintf("%d:%s", depth, n.Key))
	}))
	assert.Equal(t, []string{"0:", "1:api", "2:jobs", "1:cache"}, visited)

	worker, ok := tree.Node(filepath.Join(root, "charts", "backend", "charts", "worker"))
	require.True(t, ok)
	assert.Equal(t, "jobs", worker.Key)
	assert.Equal(t, "api", worker.Parent.Key)
}

func TestFindCharts(t *testing.T) {
	root := writeAppChart(t)
	testutil.WriteFiles(t, root, map[string]string{".git/Chart.yaml": "name: hidden\n"})
	g := newTestGraph()

	charts := g.FindCharts(context.Background(), filepath.Dir(root))
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "charts", "backend"),
		filepath.Join(root, "charts", "backend", "charts", "worker"),
	}, charts)
}
