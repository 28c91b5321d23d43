package chart

// Node is one chart in the configuration tree: a directory with Chart.yaml,
// or a packaged archive embedded under a parent's charts/ directory.
type Node struct {
	// Root is the chart directory, or the archive file for packaged charts
	Root string `json:"root"`
	// MetadataPath is the Chart.yaml path (empty for archives)
	MetadataPath string `json:"metadataPath,omitempty"`
	// ValuesPath is the default values file (empty for archives)
	ValuesPath string `json:"valuesPath,omitempty"`
	// OverrideFiles are the candidate override values files
	OverrideFiles []string `json:"overrideFiles,omitempty"`
	// IsSubchart is true when the chart is embedded in a parent chart
	IsSubchart bool `json:"isSubchart"`
	// Key is the alias or name the parent embeds this chart under
	Key string `json:"key,omitempty"`
	// Parent is a non-owning back-reference used for upward traversal only
	Parent *Node `json:"-"`
	// Subcharts are the units embedded under this chart's charts/ directory
	Subcharts []Subchart `json:"subcharts,omitempty"`
	// IsArchive is true for packaged charts
	IsArchive bool `json:"isArchive,omitempty"`
	// ArchivePath is the archive file for packaged charts
	ArchivePath string `json:"archivePath,omitempty"`
}

// Subchart describes one embedded unit as seen from its parent
type Subchart struct {
	Name        string `json:"name"`
	Alias       string `json:"alias,omitempty"`
	Root        string `json:"root"`
	Condition   string `json:"condition,omitempty"`
	IsArchive   bool   `json:"isArchive,omitempty"`
	ArchivePath string `json:"archivePath,omitempty"`
}

// Key returns the values key the subchart is addressed by
func (s Subchart) Key() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// ChainEntry is one level of an ancestor chain. Key is empty for the root.
type ChainEntry struct {
	Node *Node
	Key  string
}
