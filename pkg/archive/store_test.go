package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/oleksiyp/helmlens/internal/testutil"
	"github.com/oleksiyp/helmlens/pkg/notify"
	"github.com/oleksiyp/helmlens/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func redisArchive(valuesContent string) map[string]string {
	return map[string]string{
		"redis/Chart.yaml":            "apiVersion: v2\nname: redis\nversion: 17.0.0\n",
		"redis/values.yaml":           valuesContent,
		"redis/templates/deploy.yaml": "replicas: {{ .Values.replicas }}\n",
	}
}

func TestReadMember(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "redis-17.0.0.tgz")
	testutil.WriteChartArchive(t, path, redisArchive("replicas: 3\n"))

	store := NewStore(vfs.OS{})

	content, ok := store.ReadMember(ctx, path, "values.yaml")
	require.True(t, ok)
	assert.Equal(t, "replicas: 3\n", content)

	content, ok = store.ReadMember(ctx, path, "./templates/deploy.yaml")
	require.True(t, ok)
	assert.Contains(t, content, ".Values.replicas")

	_, ok = store.ReadMember(ctx, path, "missing.yaml")
	assert.False(t, ok)

	members := store.Members(ctx, path)
	sort.Strings(members)
	assert.Equal(t, []string{"Chart.yaml", "templates/deploy.yaml", "values.yaml"}, members)
}

func TestReadMemberMissingArchive(t *testing.T) {
	store := NewStore(nil)
	_, ok := store.ReadMember(context.Background(), filepath.Join(t.TempDir(), "nope.tgz"), "values.yaml")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestReadMemberFollowsModTime(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "redis-17.0.0.tgz")
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	testutil.WriteChartArchive(t, path, redisArchive("replicas: 1\n"))
	testutil.SetModTime(t, path, first)

	store := NewStore(vfs.OS{})
	content, ok := store.ReadMember(ctx, path, "values.yaml")
	require.True(t, ok)
	assert.Equal(t, "replicas: 1\n", content)

	// Same modification time: the cached extraction is still served.
	testutil.WriteChartArchive(t, path, redisArchive("replicas: 2\n"))
	testutil.SetModTime(t, path, first)
	content, ok = store.ReadMember(ctx, path, "values.yaml")
	require.True(t, ok)
	assert.Equal(t, "replicas: 1\n", content)

	testutil.SetModTime(t, path, second)
	content, ok = store.ReadMember(ctx, path, "values.yaml")
	require.True(t, ok)
	assert.Equal(t, "replicas: 2\n", content)
}

func TestCorruptArchiveWarnsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "broken-1.0.0.tgz")
	require.NoError(t, os.WriteFile(path, []byte("definitely not gzip"), 0o644))

	recorder := notify.NewRecorder(10)
	store := NewStore(vfs.OS{}, WithNotifier(recorder))

	_, ok := store.ReadMember(ctx, path, "values.yaml")
	assert.False(t, ok)
	_, ok = store.ReadMember(ctx, path, "Chart.yaml")
	assert.False(t, ok)

	warnings := recorder.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, notify.KindArchiveCorrupt, warnings[0].Kind)
	assert.Equal(t, path, warnings[0].Source)
}

func TestCorruptArchiveLoggedWithoutNotifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken-1.0.0.tgz")
	require.NoError(t, os.WriteFile(path, []byte("definitely not gzip"), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	store := NewStore(vfs.OS{}, WithLogger(zap.New(core)))

	_, ok := store.ReadMember(context.Background(), path, "values.yaml")
	assert.False(t, ok)

	entries := logs.FilterMessage("failed to extract chart archive").All()
	require.Len(t, entries, 1)
	assert.Equal(t, path, entries[0].ContextMap()["archive"])
}

func TestChartName(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewStore(vfs.OS{})

	withMeta := filepath.Join(dir, "whatever-0.1.0.tgz")
	testutil.WriteChartArchive(t, withMeta, redisArchive(""))
	assert.Equal(t, "redis", store.ChartName(ctx, withMeta))

	withoutMeta := filepath.Join(dir, "my-chart-1.2.3.tgz")
	testutil.WriteChartArchive(t, withoutMeta, map[string]string{"my-chart/values.yaml": "a: 1\n"})
	assert.Equal(t, "my-chart", store.ChartName(ctx, withoutMeta))

	unversioned := filepath.Join(dir, "plain.tgz")
	testutil.WriteChartArchive(t, unversioned, map[string]string{"plain/values.yaml": "a: 1\n"})
	assert.Equal(t, "plain", store.ChartName(ctx, unversioned))
}

func TestDefaultValues(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewStore(vfs.OS{})

	yml := filepath.Join(dir, "alt-1.0.0.tgz")
	testutil.WriteChartArchive(t, yml, map[string]string{"alt/values.yml": "a: 1\n"})

	member, content, ok := store.DefaultValues(ctx, yml)
	require.True(t, ok)
	assert.Equal(t, "values.yml", member)
	assert.Equal(t, "a: 1\n", content)

	empty := filepath.Join(dir, "empty-1.0.0.tgz")
	testutil.WriteChartArchive(t, empty, map[string]string{"empty/Chart.yaml": "name: empty\n"})
	_, _, ok = store.DefaultValues(ctx, empty)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inside := filepath.Join(dir, "app", "charts", "redis-17.0.0.tgz")
	outside := filepath.Join(dir, "application", "charts", "redis-17.0.0.tgz")
	testutil.WriteChartArchive(t, inside, redisArchive("a: 1\n"))
	testutil.WriteChartArchive(t, outside, redisArchive("a: 1\n"))

	store := NewStore(vfs.OS{})
	store.ReadMember(ctx, inside, "values.yaml")
	store.ReadMember(ctx, outside, "values.yaml")
	require.Equal(t, 2, store.Len())

	store.InvalidateDirectory(filepath.Join(dir, "app"))
	assert.Equal(t, 1, store.Len())

	store.Invalidate(outside)
	assert.Equal(t, 0, store.Len())

	store.ReadMember(ctx, inside, "values.yaml")
	store.Clear()
	assert.Equal(t, 0, store.Len())
}

func TestParseArchiveName(t *testing.T) {
	tests := []struct {
		file    string
		name    string
		version string
		ok      bool
	}{
		{file: "redis-17.0.0.tgz", name: "redis", version: "17.0.0", ok: true},
		{file: "/x/charts/my-chart-1.2.3.tgz", name: "my-chart", version: "1.2.3", ok: true},
		{file: "app-1.0.0-rc.1.tar.gz", name: "app", version: "1.0.0-rc.1", ok: true},
		{file: "plain.tgz", ok: false},
		{file: "redis-17.0.tgz", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			name, version, ok := ParseArchiveName(tt.file)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.version, version)
		})
	}
}

func TestCancelledExtractionIsNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redis-17.0.0.tgz")
	testutil.WriteChartArchive(t, path, redisArchive("a: 1\n"))

	recorder := notify.NewRecorder(10)
	store := NewStore(vfs.OS{}, WithNotifier(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := store.ReadMember(ctx, path, "values.yaml")
	assert.False(t, ok)
	assert.Empty(t, recorder.Warnings())

	content, ok := store.ReadMember(context.Background(), path, "values.yaml")
	require.True(t, ok)
	assert.Equal(t, "a: 1\n", content)
}
