// Package selection keeps the override values file selected for each chart
// root and persists it as YAML.
package selection

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Selection is the override file chosen for one chart
type Selection struct {
	Chart  string `yaml:"chart" json:"chart"`
	Values string `yaml:"values" json:"values"`
}

// file is the persisted document
type file struct {
	Selections []Selection `yaml:"selections"`
}

// Manager handles override file selections
type Manager struct {
	FilePath   string
	selections map[string]string // chart root -> override file
	mu         sync.RWMutex
}

// NewManager creates a new selection manager persisting to filePath. An
// empty path keeps selections in memory only.
func NewManager(filePath string) *Manager {
	return &Manager{
		FilePath:   filePath,
		selections: make(map[string]string),
	}
}

// Load reads the selections file. A missing file is an empty selection set.
func (m *Manager) Load() error {
	if m.FilePath == "" {
		return nil
	}
	data, err := os.ReadFile(m.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read selections: %w", err)
	}

	doc := &file{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("failed to parse selections: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.selections = make(map[string]string, len(doc.Selections))
	for _, s := range doc.Selections {
		if s.Chart == "" || s.Values == "" {
			continue
		}
		m.selections[filepath.Clean(s.Chart)] = s.Values
	}
	return nil
}

// Save writes the selections file atomically
func (m *Manager) Save() error {
	if m.FilePath == "" {
		return nil
	}
	data, err := yaml.Marshal(&file{Selections: m.List()})
	if err != nil {
		return fmt.Errorf("failed to encode selections: %w", err)
	}

	dir := filepath.Dir(m.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create selections directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".selections-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write selections: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write selections: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.FilePath); err != nil {
		return fmt.Errorf("failed to replace selections: %w", err)
	}
	return nil
}

// Select records valuesFile as the override for chartRoot
func (m *Manager) Select(chartRoot, valuesFile string) error {
	absChart, err := filepath.Abs(chartRoot)
	if err != nil {
		return fmt.Errorf("invalid chart path: %w", err)
	}
	absValues, err := filepath.Abs(valuesFile)
	if err != nil {
		return fmt.Errorf("invalid values path: %w", err)
	}

	info, err := os.Stat(absValues)
	if err != nil {
		return fmt.Errorf("values file does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("values file is a directory: %s", absValues)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.selections[absChart] = absValues
	return nil
}

// Clear removes the selection for chartRoot
func (m *Manager) Clear(chartRoot string) error {
	absChart, err := filepath.Abs(chartRoot)
	if err != nil {
		return fmt.Errorf("invalid chart path: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.selections[absChart]; !ok {
		return fmt.Errorf("no selection for chart: %s", absChart)
	}
	delete(m.selections, absChart)
	return nil
}

// Get returns the override file selected for chartRoot
func (m *Manager) Get(chartRoot string) (string, bool) {
	absChart, err := filepath.Abs(chartRoot)
	if err != nil {
		return "", false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	values, ok := m.selections[absChart]
	return values, ok
}

// List returns all selections sorted by chart
func (m *Manager) List() []Selection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Selection, 0, len(m.selections))
	for chart, values := range m.selections {
		result = append(result, Selection{Chart: chart, Values: values})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Chart < result[j].Chart })
	return result
}
