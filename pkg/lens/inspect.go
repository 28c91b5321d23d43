package lens

import (
	"context"

	"github.com/oleksiyp/helmlens/pkg/chart"
	"github.com/oleksiyp/helmlens/pkg/chartmeta"
	"github.com/oleksiyp/helmlens/pkg/position"
	"github.com/oleksiyp/helmlens/pkg/template"
	"github.com/oleksiyp/helmlens/pkg/values"
	"go.uber.org/zap"
)

// ResolvedReference is a template reference with its effective value and
// the place that value comes from
type ResolvedReference struct {
	template.Reference
	Value    any                     `json:"value,omitempty"`
	Found    bool                    `json:"found"`
	Position *position.ValuePosition `json:"position,omitempty"`
}

// Inspection is the result of resolving every reference of a template
type Inspection struct {
	Chart        *chart.Node         `json:"chart"`
	OverrideFile string              `json:"overrideFile,omitempty"`
	References   []ResolvedReference `json:"references"`
}

// Inspect resolves the references in text, a template of the chart owning
// file. Values references get their effective value and definition
// position; a reference missing from the values falls back to its inline
// default. Chart references resolve against Chart.yaml.
func (s *Service) Inspect(ctx context.Context, file, text string) (*Inspection, bool) {
	node, ok := s.graph.Detect(ctx, file)
	if !ok {
		return nil, false
	}

	result := &Inspection{
		Chart:        node,
		OverrideFile: s.SelectedOverride(node),
		References:   []ResolvedReference{},
	}
	vals := s.EffectiveValues(ctx, node)
	fields := s.chartFields(node)

	for _, ref := range template.Parse(text) {
		resolved := ResolvedReference{Reference: ref}
		switch ref.Kind {
		case template.KindValues:
			resolved.Value, resolved.Found = values.ResolvePath(vals, ref.Path)
			if resolved.Found {
				if pos, ok := s.Locate(ctx, node, ref.Path); ok {
					resolved.Position = &pos
				}
			} else if pos, ok := position.InlineDefaultPosition(file, text, ref); ok {
				resolved.Value = ref.Default
				resolved.Position = &pos
			}
		case template.KindChart:
			resolved.Value, resolved.Found = values.ResolvePath(fields, ref.Path)
		}
		result.References = append(result.References, resolved)
	}

	s.logger.Debug("inspected template",
		zap.String("file", file),
		zap.String("chart", node.Root),
		zap.Int("references", len(result.References)))
	return result, true
}

// chartFields exposes metadata under the names templates use (.Chart.Name)
func (s *Service) chartFields(node *chart.Node) map[string]any {
	if node.MetadataPath == "" {
		return map[string]any{}
	}
	meta, err := chartmeta.Load(s.fs, node.MetadataPath)
	if err != nil {
		return map[string]any{}
	}
	return map[string]any{
		"Name":        meta.Name,
		"Version":     meta.Version,
		"AppVersion":  meta.AppVersion,
		"Description": meta.Description,
		"Type":        meta.Type,
		"APIVersion":  meta.APIVersion,
	}
}
