// Package chartmeta decodes Chart.yaml descriptors.
package chartmeta

import (
	"fmt"

	"github.com/oleksiyp/helmlens/pkg/vfs"
	"gopkg.in/yaml.v3"
)

// FileName is the chart metadata descriptor file name
const FileName = "Chart.yaml"

// Parse decodes Chart.yaml content
func Parse(data []byte) (*Metadata, error) {
	meta := &Metadata{}
	if err := yaml.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to parse chart metadata: %w", err)
	}
	return meta, nil
}

// Load reads and decodes the metadata file at path
func Load(fsys vfs.FileSystem, path string) (*Metadata, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart metadata: %w", err)
	}
	return Parse(data)
}

// FindDependency returns the dependency whose name or alias equals name.
// Name matches are preferred over alias matches.
func (m *Metadata) FindDependency(name string) (Dependency, bool) {
	if m == nil {
		return Dependency{}, false
	}
	for _, dep := range m.Dependencies {
		if dep.Name == name {
			return dep, true
		}
	}
	for _, dep := range m.Dependencies {
		if dep.Alias != "" && dep.Alias == name {
			return dep, true
		}
	}
	return Dependency{}, false
}
