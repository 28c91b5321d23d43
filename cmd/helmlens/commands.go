package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/oleksiyp/helmlens/pkg/chart"
	"github.com/oleksiyp/helmlens/pkg/lens"
	"github.com/oleksiyp/helmlens/pkg/position"
	"github.com/oleksiyp/helmlens/pkg/template"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDetectCmd() *cobra.Command {
	var output outputFormat

	cmd := &cobra.Command{
		Use:   "detect <path>",
		Short: "Show the chart a file belongs to",
		Long: `Find the chart owning a file or directory and list its subcharts.

Examples:
  # Chart of a template
  helmlens detect charts/app/templates/deployment.yaml

  # As JSON, for editor integrations
  helmlens detect charts/app -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := absPath(args[0])
			if err != nil {
				return err
			}
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			ctx := cmd.Context()
			node, ok := service.DetectChart(ctx, location)
			if !ok {
				return fmt.Errorf("no chart found for %s", args[0])
			}

			out := cmd.OutOrStdout()
			if output == formatJSON {
				return printJSON(out, node)
			}
			if output == formatYAML {
				return printYAML(out, node)
			}

			fmt.Fprintf(out, "Chart:     %s\n", node.Root)
			if node.IsSubchart {
				chain := chart.BuildAncestorChain(node)
				fmt.Fprintf(out, "Key:       %s\n", strings.Join(chart.EmbeddingKeys(chain), "."))
				fmt.Fprintf(out, "Root:      %s\n", chain[0].Node.Root)
			}
			if node.ValuesPath != "" {
				fmt.Fprintf(out, "Values:    %s\n", node.ValuesPath)
			}
			for _, f := range node.OverrideFiles {
				fmt.Fprintf(out, "Override:  %s\n", f)
			}
			if selected := service.SelectedOverride(node); selected != "" {
				fmt.Fprintf(out, "Selected:  %s\n", success(selected))
			}

			if len(node.Subcharts) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			table := newTable(out, "Key", "Chart", "Type", "Condition", "Location")
			for _, sc := range node.Subcharts {
				kind := "directory"
				if sc.IsArchive {
					kind = "archive"
				}
				table.Append([]string{sc.Key(), sc.Name, kind, sc.Condition, sc.Root})
			}
			return table.Render()
		},
	}

	addOutputFlag(cmd.Flags(), &output, formatText)
	return cmd
}

func newValuesCmd() *cobra.Command {
	var (
		override string
		path     string
		output   outputFormat
	)

	cmd := &cobra.Command{
		Use:   "values <path>",
		Short: "Print the effective values of a chart",
		Long: `Print the values a chart's templates see. For a subchart these are its
defaults overlaid with what its ancestors set under its key, plus the root
chart's global section.

Without --override the override file selected for the root chart is used.

Examples:
  helmlens values charts/app
  helmlens values charts/app/charts/backend --override charts/app/values-prod.yaml
  helmlens values charts/app --path image.tag`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := absPath(args[0])
			if err != nil {
				return err
			}
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			ctx := cmd.Context()
			node, ok := service.DetectChart(ctx, location)
			if !ok {
				return fmt.Errorf("no chart found for %s", args[0])
			}

			var vals map[string]any
			switch {
			case override == "":
				vals = service.EffectiveValues(ctx, node)
			case node.IsSubchart:
				vals = service.GetValuesForSubchart(ctx, node, mustAbs(override))
			default:
				vals = service.GetValues(ctx, node, mustAbs(override))
			}

			var result any = vals
			if path != "" {
				v, found := service.ResolveValuePath(vals, path)
				if !found {
					return fmt.Errorf("value %s is not set", path)
				}
				result = v
			}

			if output == formatJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			return printYAML(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&override, "override", "", "Override values file of the root chart")
	cmd.Flags().StringVarP(&path, "path", "p", "", "Print only the value at this dotted path")
	addOutputFlag(cmd.Flags(), &output, formatYAML)
	return cmd
}

func newRefsCmd() *cobra.Command {
	var output outputFormat

	cmd := &cobra.Command{
		Use:   "refs <template>",
		Short: "Resolve the references of a template",
		Long: `List every .Values, .Chart, .Release, .Capabilities, .Template and .Files
reference in a template, with the value it resolves to and where that value
is defined.

Example:
  helmlens refs charts/app/templates/deployment.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := absPath(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read template: %w", err)
			}
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			inspection, ok := service.Inspect(cmd.Context(), file, string(data))
			if !ok {
				return fmt.Errorf("no chart found for %s", args[0])
			}

			out := cmd.OutOrStdout()
			switch output {
			case formatJSON:
				return printJSON(out, inspection)
			case formatYAML:
				return printYAML(out, inspection)
			}

			if len(inspection.References) == 0 {
				fmt.Fprintln(out, "No references found")
				return nil
			}
			text := string(data)
			table := newTable(out, "Line", "Reference", "Value", "Defined at")
			for _, ref := range inspection.References {
				line, col := position.LineColumn(text, ref.Start)
				value, definedAt := describeReference(ref)
				table.Append([]string{
					fmt.Sprintf("%d:%d", line+1, col+1),
					"." + string(ref.Kind) + "." + ref.Path,
					value,
					definedAt,
				})
			}
			return table.Render()
		},
	}

	addOutputFlag(cmd.Flags(), &output, formatText)
	return cmd
}

func describeReference(ref lens.ResolvedReference) (value, definedAt string) {
	switch {
	case ref.Found:
		value = formatValue(ref.Value)
	case ref.Position != nil && ref.Position.Source == position.SourceInlineDefault:
		value = warn(ref.Default)
	case ref.Kind == template.KindValues:
		value = warn("<unset>")
	default:
		value = faint("<runtime>")
	}
	if ref.Position != nil {
		definedAt = fmt.Sprintf("%s (%s)", formatPosition(*ref.Position), ref.Position.Source)
	}
	return value, definedAt
}

func newLocateCmd() *cobra.Command {
	var override string

	cmd := &cobra.Command{
		Use:   "locate <path> <value-path>",
		Short: "Find where a value is defined",
		Long: `Find the file, line and column defining a value for the chart owning <path>.
Subcharts are searched through their ancestors: the root override file,
then each parent's defaults, then the subchart's own defaults.

Example:
  helmlens locate charts/app/charts/backend service.port`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := absPath(args[0])
			if err != nil {
				return err
			}
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			ctx := cmd.Context()
			var (
				pos position.ValuePosition
				ok  bool
			)
			if strings.HasSuffix(location, ".tgz") {
				pos, ok = service.FindPositionInArchive(ctx, location, args[1], position.SourceDefault)
			} else {
				node, detected := service.DetectChart(ctx, location)
				if !detected {
					return fmt.Errorf("no chart found for %s", args[0])
				}
				switch {
				case override == "":
					pos, ok = service.Locate(ctx, node, args[1])
				case node.IsSubchart:
					pos, ok = service.FindPositionInChainNested(ctx, node, mustAbs(override), args[1])
				default:
					pos, ok = service.FindPositionInChain(ctx, node, mustAbs(override), args[1])
				}
			}
			if !ok {
				return fmt.Errorf("value %s is not defined", args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", formatPosition(pos), pos.Source)
			return nil
		},
	}

	cmd.Flags().StringVar(&override, "override", "", "Override values file of the root chart")
	return cmd
}

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <chart>",
		Short: "Print the subchart tree of a chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := absPath(args[0])
			if err != nil {
				return err
			}
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			ctx := cmd.Context()
			node, ok := service.DetectChart(ctx, location)
			if !ok {
				return fmt.Errorf("no chart found for %s", args[0])
			}
			tree, err := service.Graph().Tree(ctx, node)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return tree.Walk(func(n *chart.Node, depth int) {
				name := n.Key
				if depth == 0 || name == "" {
					name = filepath.Base(n.Root)
				}
				suffix := ""
				if n.IsArchive {
					suffix = " " + faint("("+filepath.Base(n.ArchivePath)+")")
				}
				fmt.Fprintf(out, "%s%s%s\n", strings.Repeat("  ", depth), name, suffix)
			})
		},
	}
}

func newFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find [dir]",
		Short: "List every chart under a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := mustGetwd()
			if len(args) == 1 {
				dir = args[0]
			}
			dir, err := absPath(dir)
			if err != nil {
				return err
			}
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			s := spinner.New(spinner.CharSets[4], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
			s.Suffix = fmt.Sprintf(" Scanning: %s", dir)
			s.Start()
			charts := service.Graph().FindCharts(cmd.Context(), dir)
			s.Stop()

			out := cmd.OutOrStdout()
			if len(charts) == 0 {
				fmt.Fprintln(out, "No charts found")
				return nil
			}
			for _, c := range charts {
				fmt.Fprintln(out, c)
			}
			return nil
		},
	}
}

func newSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <chart> <values-file>",
		Short: "Select the override values file of a chart",
		Long: `Remember an override values file for a root chart. Values and positions
for the chart and all of its subcharts use it until it is unselected.

Example:
  helmlens select charts/app charts/app/values-prod.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			root, err := chartRoot(cmd.Context(), service, args[0])
			if err != nil {
				return err
			}
			if err := service.SelectOverride(root, mustAbs(args[1])); err != nil {
				return err
			}
			globalLogger.Info("override selected", zap.String("chart", root), zap.String("values", args[1]))
			fmt.Fprintf(cmd.OutOrStdout(), "%s Override selected: %s → %s\n", success("✓"), root, mustAbs(args[1]))
			return nil
		},
	}
}

func newUnselectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unselect <chart>",
		Short: "Clear the override values file of a chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			root, err := chartRoot(cmd.Context(), service, args[0])
			if err != nil {
				return err
			}
			if err := service.ClearOverride(root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Override cleared: %s\n", success("✓"), root)
			return nil
		},
	}
}

func newSelectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selections",
		Short: "List selected override values files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService()
			if err != nil {
				return err
			}
			defer service.Close()

			out := cmd.OutOrStdout()
			selections := service.Selections().List()
			if len(selections) == 0 {
				fmt.Fprintln(out, "No override files selected")
				return nil
			}
			table := newTable(out, "Chart", "Values")
			for _, sel := range selections {
				table.Append([]string{sel.Chart, sel.Values})
			}
			return table.Render()
		},
	}
}

// chartRoot resolves a path inside a chart to the root chart's directory
func chartRoot(ctx context.Context, service *lens.Service, path string) (string, error) {
	location, err := absPath(path)
	if err != nil {
		return "", err
	}
	node, ok := service.DetectChart(ctx, location)
	if !ok {
		return "", fmt.Errorf("no chart found for %s", path)
	}
	return chart.RootOf(node).Root, nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
