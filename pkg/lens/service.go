// Package lens wires chart discovery, values resolution, position lookup
// and template reference parsing into one service.
package lens

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oleksiyp/helmlens/pkg/archive"
	"github.com/oleksiyp/helmlens/pkg/chart"
	"github.com/oleksiyp/helmlens/pkg/debounce"
	"github.com/oleksiyp/helmlens/pkg/notify"
	"github.com/oleksiyp/helmlens/pkg/position"
	"github.com/oleksiyp/helmlens/pkg/selection"
	"github.com/oleksiyp/helmlens/pkg/template"
	"github.com/oleksiyp/helmlens/pkg/values"
	"github.com/oleksiyp/helmlens/pkg/vfs"
	"go.uber.org/zap"
)

// Service is the entry point for editor integrations, the CLI and the API
type Service struct {
	fs         vfs.FileSystem
	logger     *zap.Logger
	archives   *archive.Store
	graph      *chart.Graph
	engine     *values.Engine
	resolver   *position.Resolver
	selections *selection.Manager
	recorder   *notify.Recorder
}

type config struct {
	fs               vfs.FileSystem
	logger           *zap.Logger
	workspaceRoot    string
	overridePatterns []string
	debounceDelay    time.Duration
	clock            debounce.Clock
	notifiers        []notify.Notifier
	selections       *selection.Manager
}

// Option configures a Service
type Option func(*config)

// WithLogger sets the logger shared by every component
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFileSystem replaces the host filesystem
func WithFileSystem(fsys vfs.FileSystem) Option {
	return func(c *config) {
		if fsys != nil {
			c.fs = fsys
		}
	}
}

// WithWorkspaceRoot bounds chart detection
func WithWorkspaceRoot(root string) Option {
	return func(c *config) {
		c.workspaceRoot = root
	}
}

// WithOverridePatterns adds override file name patterns
func WithOverridePatterns(patterns ...string) Option {
	return func(c *config) {
		c.overridePatterns = append(c.overridePatterns, patterns...)
	}
}

// WithDebounce sets the invalidation delay
func WithDebounce(delay time.Duration) Option {
	return func(c *config) {
		c.debounceDelay = delay
	}
}

// WithClock sets the clock debounced invalidations run on
func WithClock(clock debounce.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithNotifier adds a destination for archive warnings
func WithNotifier(n notify.Notifier) Option {
	return func(c *config) {
		if n != nil {
			c.notifiers = append(c.notifiers, n)
		}
	}
}

// WithSelections sets the override selection store
func WithSelections(m *selection.Manager) Option {
	return func(c *config) {
		c.selections = m
	}
}

// NewService creates a new service
func NewService(opts ...Option) *Service {
	cfg := &config{
		fs:            vfs.OS{},
		logger:        zap.NewNop(),
		debounceDelay: debounce.DefaultDelay,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.selections == nil {
		cfg.selections = selection.NewManager("")
	}

	recorder := notify.NewRecorder(0)
	notifiers := append(notify.Multi{recorder, notify.NewLogNotifier(cfg.logger.Named("warnings"))}, cfg.notifiers...)

	archives := archive.NewStore(cfg.fs,
		archive.WithLogger(cfg.logger.Named("archive")),
		archive.WithNotifier(notifiers))

	graphOpts := []chart.Option{
		chart.WithLogger(cfg.logger.Named("chart")),
		chart.WithOverridePatterns(cfg.overridePatterns...),
	}
	if cfg.workspaceRoot != "" {
		graphOpts = append(graphOpts, chart.WithWorkspaceRoot(cfg.workspaceRoot))
	}

	var schedulerOpts []debounce.Option
	if cfg.clock != nil {
		schedulerOpts = append(schedulerOpts, debounce.WithClock(cfg.clock))
	}
	scheduler := debounce.New(cfg.debounceDelay, schedulerOpts...)

	return &Service{
		fs:         cfg.fs,
		logger:     cfg.logger,
		archives:   archives,
		graph:      chart.NewGraph(cfg.fs, archives, graphOpts...),
		engine:     values.NewEngine(cfg.fs, archives, values.WithLogger(cfg.logger.Named("values")), values.WithScheduler(scheduler)),
		resolver:   position.NewResolver(cfg.fs, archives, position.WithLogger(cfg.logger.Named("position"))),
		selections: cfg.selections,
		recorder:   recorder,
	}
}

// Graph returns the chart graph
func (s *Service) Graph() *chart.Graph { return s.graph }

// Selections returns the override selection store
func (s *Service) Selections() *selection.Manager { return s.selections }

// DetectChart finds the chart owning location
func (s *Service) DetectChart(ctx context.Context, location string) (*chart.Node, bool) {
	return s.graph.Detect(ctx, location)
}

// DiscoverSubcharts lists the subcharts embedded in chartRoot
func (s *Service) DiscoverSubcharts(ctx context.Context, chartRoot string) []chart.Subchart {
	return s.graph.DiscoverSubcharts(ctx, chartRoot)
}

// GetValues returns node's defaults merged with overrideFile
func (s *Service) GetValues(ctx context.Context, node *chart.Node, overrideFile string) map[string]any {
	return s.engine.GetValues(ctx, node, overrideFile)
}

// GetValuesForSubchart returns node's effective values under its root chart
func (s *Service) GetValuesForSubchart(ctx context.Context, node *chart.Node, rootOverrideFile string) map[string]any {
	return s.engine.GetValuesForSubchart(ctx, node, rootOverrideFile)
}

// ResolveValuePath looks up a dotted path in a values map
func (s *Service) ResolveValuePath(vals map[string]any, path string) (any, bool) {
	return values.ResolvePath(vals, path)
}

// FindPositionInChain locates path in a root chart's override then defaults
func (s *Service) FindPositionInChain(ctx context.Context, node *chart.Node, overrideFile, path string) (position.ValuePosition, bool) {
	return s.resolver.FindInChain(ctx, node, overrideFile, path)
}

// FindPositionInChainNested locates a subchart path through its ancestors
func (s *Service) FindPositionInChainNested(ctx context.Context, node *chart.Node, rootOverrideFile, path string) (position.ValuePosition, bool) {
	return s.resolver.FindInChainNested(ctx, node, rootOverrideFile, path)
}

// FindPositionInArchive locates path in a packaged chart's default values
func (s *Service) FindPositionInArchive(ctx context.Context, archivePath, path string, source position.Source) (position.ValuePosition, bool) {
	return s.resolver.FindInArchive(ctx, archivePath, path, source)
}

// ParseTemplateReferences extracts the field references of template text
func (s *Service) ParseTemplateReferences(text string) []template.Reference {
	return template.Parse(text)
}

// InvalidateCache schedules a debounced invalidation of chartRoot
func (s *Service) InvalidateCache(chartRoot string) {
	s.engine.InvalidateCache(chartRoot)
}

// InvalidateCacheImmediate invalidates chartRoot and its subcharts now
func (s *Service) InvalidateCacheImmediate(chartRoot string) {
	s.engine.InvalidateCacheImmediate(chartRoot)
}

// ClearAll drops every cache
func (s *Service) ClearAll() {
	s.engine.ClearAll()
}

// SelectedOverride returns the override file selected for node's root chart
func (s *Service) SelectedOverride(node *chart.Node) string {
	root := chart.RootOf(node)
	if root == nil {
		return ""
	}
	file, _ := s.selections.Get(root.Root)
	return file
}

// EffectiveValues returns node's values with its root's selected override
func (s *Service) EffectiveValues(ctx context.Context, node *chart.Node) map[string]any {
	override := s.SelectedOverride(node)
	if node.IsSubchart {
		return s.engine.GetValuesForSubchart(ctx, node, override)
	}
	return s.engine.GetValues(ctx, node, override)
}

// Locate finds where path is defined for node, using the nested search for
// subcharts
func (s *Service) Locate(ctx context.Context, node *chart.Node, path string) (position.ValuePosition, bool) {
	override := s.SelectedOverride(node)
	if node.IsSubchart {
		return s.resolver.FindInChainNested(ctx, node, override, path)
	}
	return s.resolver.FindInChain(ctx, node, override, path)
}

// SelectOverride records valuesFile as chartRoot's override and drops the
// chart's cached values right away
func (s *Service) SelectOverride(chartRoot, valuesFile string) error {
	if err := s.selections.Select(chartRoot, valuesFile); err != nil {
		return fmt.Errorf("failed to select override: %w", err)
	}
	if err := s.selections.Save(); err != nil {
		return fmt.Errorf("failed to save selections: %w", err)
	}
	s.invalidateSelected(chartRoot)
	return nil
}

// ClearOverride removes chartRoot's override selection
func (s *Service) ClearOverride(chartRoot string) error {
	if err := s.selections.Clear(chartRoot); err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	if err := s.selections.Save(); err != nil {
		return fmt.Errorf("failed to save selections: %w", err)
	}
	s.invalidateSelected(chartRoot)
	return nil
}

func (s *Service) invalidateSelected(chartRoot string) {
	if abs, err := filepath.Abs(chartRoot); err == nil {
		chartRoot = abs
	}
	s.engine.InvalidateCacheImmediate(chartRoot)
}

// HandleChange reacts to a changed file: archives are dropped at once and
// the owning chart is invalidated after the debounce delay
func (s *Service) HandleChange(ctx context.Context, path string) {
	if archive.IsArchive(path) {
		s.archives.Invalidate(path)
	}
	node, ok := s.graph.Detect(ctx, path)
	if !ok {
		return
	}
	s.logger.Debug("scheduling invalidation",
		zap.String("file", path),
		zap.String("root", node.Root))
	s.engine.InvalidateCache(node.Root)
}

// Warnings returns the most recent archive warnings
func (s *Service) Warnings() []notify.Warning {
	return s.recorder.Warnings()
}

// Stats reports cache occupancy
func (s *Service) Stats() Stats {
	return Stats{
		Values:               s.engine.Stats(),
		Archives:             s.archives.Len(),
		PendingInvalidations: len(s.engine.PendingInvalidations()),
	}
}

// Close stops pending invalidations
func (s *Service) Close() {
	s.engine.Close()
}

// Stats is a snapshot of the service caches
type Stats struct {
	Values               values.Stats `json:"values"`
	Archives             int          `json:"archives"`
	PendingInvalidations int          `json:"pendingInvalidations"`
}
