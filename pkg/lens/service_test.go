package lens

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oleksiyp/helmlens/internal/testutil"
	"github.com/oleksiyp/helmlens/pkg/debounce"
	"github.com/oleksiyp/helmlens/pkg/notify"
	"github.com/oleksiyp/helmlens/pkg/position"
	"github.com/oleksiyp/helmlens/pkg/selection"
	"github.com/oleksiyp/helmlens/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deployTemplate = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{ .Chart.Name }}-{{ .Release.Name }}
spec:
  replicas: {{ .Values.replicaCount }}
  template:
    spec:
      containers:
        - image: "{{ .Values.image.repository }}:{{ .Values.image.tag | default "latest" }}"
          port: {{ .Values.service.port | default 8080 }}
`

type fixture struct {
	workspace string
	root      string
	api       string
	clock     *debounce.FakeClock
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	workspace := t.TempDir()
	root := filepath.Join(workspace, "app")
	api := filepath.Join(root, "charts", "backend")
	testutil.WriteFiles(t, root, map[string]string{
		"Chart.yaml": "apiVersion: v2\nname: app\nversion: 1.2.3\ndependencies:\n  - name: backend\n    alias: api\n",
		"values.yaml": `replicaCount: 1
image:
  repository: nginx
global:
  env: dev
api:
  port: 9090
`,
		"values-prod.yaml":                  "replicaCount: 3\napi:\n  port: 443\n",
		"templates/deployment.yaml":         deployTemplate,
		"charts/backend/Chart.yaml":         "apiVersion: v2\nname: backend\nversion: 0.1.0\n",
		"charts/backend/values.yaml":        "port: 8080\nname: backend\n",
		"charts/backend/templates/svc.yaml": "port: {{ .Values.port }} env: {{ .Values.global.env }}\n",
	})
	testutil.WriteChartArchive(t, filepath.Join(root, "charts", "broken-1.0.0.tgz"), map[string]string{
		"broken/Chart.yaml": "name: broken\n",
	})

	clock := debounce.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	service := NewService(
		WithWorkspaceRoot(workspace),
		WithClock(clock),
		WithSelections(selection.NewManager(filepath.Join(workspace, ".helmlens", "selections.yaml"))),
	)
	t.Cleanup(service.Close)
	return &fixture{workspace: workspace, root: root, api: api, clock: clock, service: service}
}

func TestDetectAndDiscover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	node, ok := f.service.DetectChart(ctx, filepath.Join(f.root, "templates", "deployment.yaml"))
	require.True(t, ok)
	assert.Equal(t, f.root, node.Root)
	assert.Equal(t, []string{filepath.Join(f.root, "values-prod.yaml")}, node.OverrideFiles)

	subcharts := f.service.DiscoverSubcharts(ctx, f.root)
	require.Len(t, subcharts, 2)
	assert.Equal(t, "api", subcharts[0].Key())
	assert.Equal(t, "broken", subcharts[1].Key())
}

func TestInspect(t *testing.T) {
	f := newFixture(t)
	file := filepath.Join(f.root, "templates", "deployment.yaml")

	inspection, ok := f.service.Inspect(context.Background(), file, deployTemplate)
	require.True(t, ok)
	assert.Equal(t, f.root, inspection.Chart.Root)
	assert.Empty(t, inspection.OverrideFile)

	byPath := make(map[string]ResolvedReference)
	for _, ref := range inspection.References {
		byPath[string(ref.Kind)+":"+ref.Path] = ref
	}
	require.Len(t, byPath, 6)

	name := byPath["Chart:Name"]
	assert.True(t, name.Found)
	assert.Equal(t, "app", name.Value)

	assert.False(t, byPath["Release:Name"].Found)

	replicas := byPath["Values:replicaCount"]
	assert.True(t, replicas.Found)
	assert.Equal(t, float64(1), replicas.Value)
	require.NotNil(t, replicas.Position)
	assert.Equal(t, position.ValuePosition{
		File:   filepath.Join(f.root, "values.yaml"),
		Line:   0,
		Column: 0,
		Source: position.SourceDefault,
	}, *replicas.Position)

	tag := byPath["Values:image.tag"]
	assert.False(t, tag.Found)
	assert.Equal(t, "latest", tag.Value)
	require.NotNil(t, tag.Position)
	assert.Equal(t, position.SourceInlineDefault, tag.Position.Source)
	assert.Equal(t, 9, tag.Position.Line)

	port := byPath["Values:service.port"]
	assert.Equal(t, "8080", port.Value)
}

func TestInspectSubchartUsesSelectedRootOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := filepath.Join(f.api, "templates", "svc.yaml")
	text := "port: {{ .Values.port }} env: {{ .Values.global.env }}\n"

	inspection, ok := f.service.Inspect(ctx, file, text)
	require.True(t, ok)
	require.Len(t, inspection.References, 2)
	assert.Equal(t, float64(9090), inspection.References[0].Value)
	assert.Equal(t, position.SourceParentDefault, inspection.References[0].Position.Source)
	assert.Equal(t, "dev", inspection.References[1].Value)

	require.NoError(t, f.service.SelectOverride(f.root, filepath.Join(f.root, "values-prod.yaml")))

	inspection, ok = f.service.Inspect(ctx, file, text)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.root, "values-prod.yaml"), inspection.OverrideFile)
	assert.Equal(t, float64(443), inspection.References[0].Value)
	assert.Equal(t, position.SourceOverride, inspection.References[0].Position.Source)

	require.NoError(t, f.service.ClearOverride(f.root))
	inspection, ok = f.service.Inspect(ctx, file, text)
	require.True(t, ok)
	assert.Equal(t, float64(9090), inspection.References[0].Value)
}

func TestInspectOutsideChart(t *testing.T) {
	f := newFixture(t)
	_, ok := f.service.Inspect(context.Background(), filepath.Join(f.workspace, "README.md"), "{{ .Values.x }}")
	assert.False(t, ok)
}

func TestSelectOverridePersists(t *testing.T) {
	f := newFixture(t)
	prod := filepath.Join(f.root, "values-prod.yaml")
	require.NoError(t, f.service.SelectOverride(f.root, prod))

	reloaded := selection.NewManager(filepath.Join(f.workspace, ".helmlens", "selections.yaml"))
	require.NoError(t, reloaded.Load())
	got, ok := reloaded.Get(f.root)
	require.True(t, ok)
	assert.Equal(t, prod, got)

	assert.Error(t, f.service.SelectOverride(f.root, filepath.Join(f.root, "missing.yaml")))
}

func TestHandleChangeIsDebounced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	node, ok := f.service.DetectChart(ctx, f.root)
	require.True(t, ok)

	values := f.service.GetValues(ctx, node, "")
	replicas, _ := f.service.ResolveValuePath(values, "replicaCount")
	require.Equal(t, float64(1), replicas)

	valuesFile := filepath.Join(f.root, "values.yaml")
	require.NoError(t, os.WriteFile(valuesFile, []byte("replicaCount: 7\n"), 0o644))
	f.service.HandleChange(ctx, valuesFile)
	f.service.HandleChange(ctx, valuesFile)
	assert.Equal(t, 1, f.service.Stats().PendingInvalidations)

	replicas, _ = f.service.ResolveValuePath(f.service.GetValues(ctx, node, ""), "replicaCount")
	assert.Equal(t, float64(1), replicas, "still cached before the delay")

	f.clock.Advance(debounce.DefaultDelay)
	replicas, _ = f.service.ResolveValuePath(f.service.GetValues(ctx, node, ""), "replicaCount")
	assert.Equal(t, float64(7), replicas)
}

func TestArchiveWarningsAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	archivePath := filepath.Join(f.root, "charts", "broken-1.0.0.tgz")
	require.NoError(t, os.WriteFile(archivePath, []byte("corrupt"), 0o644))

	recorder := notify.NewRecorder(5)
	service := NewService(WithNotifier(recorder))
	defer service.Close()

	_, ok := service.FindPositionInArchive(ctx, archivePath, "a", position.SourceDefault)
	assert.False(t, ok)

	require.Len(t, service.Warnings(), 1)
	assert.Equal(t, archivePath, service.Warnings()[0].Source)
	assert.Len(t, recorder.Warnings(), 1)
}

func TestFacadeOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refs := f.service.ParseTemplateReferences("{{ .Values.port | default 8080 }}")
	require.Len(t, refs, 1)
	assert.Equal(t, template.KindValues, refs[0].Kind)

	api, ok := f.service.DetectChart(ctx, f.api)
	require.True(t, ok)

	vals := f.service.GetValuesForSubchart(ctx, api, "")
	port, ok := f.service.ResolveValuePath(vals, "port")
	require.True(t, ok)
	assert.Equal(t, float64(9090), port)

	pos, ok := f.service.FindPositionInChainNested(ctx, api, "", "name")
	require.True(t, ok)
	assert.Equal(t, position.SourceDefault, pos.Source)

	root, ok := f.service.DetectChart(ctx, f.root)
	require.True(t, ok)
	pos, ok = f.service.FindPositionInChain(ctx, root, "", "image.repository")
	require.True(t, ok)
	assert.Equal(t, 2, pos.Line)

	assert.NotZero(t, f.service.Stats().Values.Values)
	f.service.InvalidateCache(f.root)
	f.service.InvalidateCacheImmediate(f.root)
	assert.Zero(t, f.service.Stats().Values.Values)
	assert.Zero(t, f.service.Stats().PendingInvalidations)

	f.service.GetValues(ctx, root, "")
	f.service.ClearAll()
	assert.Equal(t, Stats{}, f.service.Stats())
}
