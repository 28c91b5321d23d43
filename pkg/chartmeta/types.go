package chartmeta

// Metadata represents the subset of Chart.yaml the resolver reads
type Metadata struct {
	APIVersion   string       `yaml:"apiVersion,omitempty"`
	Name         string       `yaml:"name"`
	Version      string       `yaml:"version,omitempty"`
	Description  string       `yaml:"description,omitempty"`
	Type         string       `yaml:"type,omitempty"`
	AppVersion   string       `yaml:"appVersion,omitempty"`
	Condition    string       `yaml:"condition,omitempty"`
	Dependencies []Dependency `yaml:"dependencies,omitempty"`
}

// Dependency represents a chart dependency declared in Chart.yaml
type Dependency struct {
	Name       string   `yaml:"name"`
	Version    string   `yaml:"version,omitempty"`
	Repository string   `yaml:"repository,omitempty"`
	Condition  string   `yaml:"condition,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`
	Alias      string   `yaml:"alias,omitempty"`
}

// Key returns the name under which the parent addresses this dependency's values
func (d Dependency) Key() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}
