package chartmeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oleksiyp/helmlens/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const umbrellaChart = `apiVersion: v2
name: umbrella
version: 1.2.3
dependencies:
  - name: postgresql
    version: 12.0.0
    repository: https://charts.example.com
    condition: postgresql.enabled
  - name: redis
    version: 17.0.0
    alias: cache
`

func TestParse(t *testing.T) {
	meta, err := Parse([]byte(umbrellaChart))
	require.NoError(t, err)

	assert.Equal(t, "umbrella", meta.Name)
	assert.Equal(t, "1.2.3", meta.Version)
	require.Len(t, meta.Dependencies, 2)
	assert.Equal(t, "postgresql.enabled", meta.Dependencies[0].Condition)
	assert.Equal(t, "cache", meta.Dependencies[1].Alias)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("name: [unterminated"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(umbrellaChart), 0o644))

	meta, err := Load(vfs.OS{}, path)
	require.NoError(t, err)
	assert.Equal(t, "umbrella", meta.Name)

	_, err = Load(vfs.OS{}, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFindDependency(t *testing.T) {
	meta, err := Parse([]byte(umbrellaChart))
	require.NoError(t, err)

	dep, ok := meta.FindDependency("postgresql")
	require.True(t, ok)
	assert.Equal(t, "postgresql", dep.Key())

	dep, ok = meta.FindDependency("redis")
	require.True(t, ok)
	assert.Equal(t, "cache", dep.Key())

	dep, ok = meta.FindDependency("cache")
	require.True(t, ok)
	assert.Equal(t, "redis", dep.Name)

	_, ok = meta.FindDependency("mysql")
	assert.False(t, ok)

	var missing *Metadata
	_, ok = missing.FindDependency("redis")
	assert.False(t, ok)
}
