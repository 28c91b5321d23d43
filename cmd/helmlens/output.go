package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/oleksiyp/helmlens/pkg/position"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"
)

// outputFormat is a flag value restricted to the supported formats
type outputFormat string

const (
	formatText outputFormat = "text"
	formatYAML outputFormat = "yaml"
	formatJSON outputFormat = "json"
)

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(v string) error {
	switch outputFormat(v) {
	case formatText, formatYAML, formatJSON:
		*f = outputFormat(v)
		return nil
	}
	return fmt.Errorf("must be one of text, yaml, json")
}

func (f *outputFormat) Type() string { return "format" }

func addOutputFlag(flags *pflag.FlagSet, f *outputFormat, def outputFormat) {
	*f = def
	flags.VarP(f, "output", "o", "Output format (text, yaml, json)")
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func newTable(w io.Writer, header ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Header(header...)
	return table
}

var (
	success = color.New(color.FgGreen).SprintFunc()
	warn    = color.New(color.FgYellow).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
)

// formatPosition renders a definition site with 1-based line and column
func formatPosition(pos position.ValuePosition) string {
	file := pos.File
	if pos.ArchiveMember != "" {
		file = pos.ArchivePath + "!" + pos.ArchiveMember
	}
	return fmt.Sprintf("%s:%d:%d", file, pos.Line+1, pos.Column+1)
}

// formatValue renders a scalar inline and a structure as compact JSON
func formatValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	case nil:
		return "null"
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
