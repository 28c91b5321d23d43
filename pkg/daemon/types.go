package daemon

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/oleksiyp/helmlens/pkg/chart"
	"github.com/oleksiyp/helmlens/pkg/lens"
	"github.com/oleksiyp/helmlens/pkg/notify"
	"github.com/oleksiyp/helmlens/pkg/position"
	"github.com/oleksiyp/helmlens/pkg/selection"
	"github.com/oleksiyp/helmlens/pkg/watch"
	"go.uber.org/zap"
)

// Daemon manages the background helmlens process
type Daemon struct {
	pidFile      string
	logFile      string
	apiAddr      string
	apiServer    *APIServer
	service      *lens.Service
	watcher      *watch.Watcher
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownCh   chan string
	shutdownOnce sync.Once
	startTime    time.Time
	listener     net.Listener
}

// DaemonConfig configures the daemon
type DaemonConfig struct {
	PIDFile string
	LogFile string
	APIAddr string
	// WatchRoots are watched for chart changes; none disables watching
	WatchRoots []string
}

// Status represents daemon status
type Status struct {
	Running    bool       `json:"running"`
	PID        int        `json:"pid,omitempty"`
	Uptime     string     `json:"uptime,omitempty"`
	StartTime  time.Time  `json:"startTime,omitempty"`
	Watching   []string   `json:"watching,omitempty"`
	Selections int        `json:"selections"`
	Cache      lens.Stats `json:"cache"`
}

// ChartRequest asks for the chart owning a location
type ChartRequest struct {
	Location string `json:"location"`
}

// ChartResponse describes a detected chart
type ChartResponse struct {
	Chart        *chart.Node      `json:"chart"`
	Subcharts    []chart.Subchart `json:"subcharts"`
	OverrideFile string           `json:"overrideFile,omitempty"`
}

// ValuesRequest asks for the effective values of the chart owning Location.
// An empty OverrideFile uses the root chart's selection.
type ValuesRequest struct {
	Location     string `json:"location"`
	OverrideFile string `json:"overrideFile,omitempty"`
	Path         string `json:"path,omitempty"`
}

// ValuesResponse carries resolved values, or a single value when a path
// was requested
type ValuesResponse struct {
	Chart        string         `json:"chart"`
	OverrideFile string         `json:"overrideFile,omitempty"`
	Values       map[string]any `json:"values,omitempty"`
	Value        any            `json:"value,omitempty"`
	Found        bool           `json:"found"`
}

// ReferencesRequest carries a template to inspect
type ReferencesRequest struct {
	File string `json:"file"`
	Text string `json:"text"`
}

// PositionRequest asks where Path is defined. ArchivePath looks inside a
// packaged chart instead of detecting a chart from Location.
type PositionRequest struct {
	Location     string `json:"location,omitempty"`
	ArchivePath  string `json:"archivePath,omitempty"`
	OverrideFile string `json:"overrideFile,omitempty"`
	Path         string `json:"path"`
}

// PositionResponse is the definition site of a value
type PositionResponse struct {
	Found    bool                    `json:"found"`
	Position *position.ValuePosition `json:"position,omitempty"`
}

// InvalidateRequest drops cached values for ChartRoot, or everything
type InvalidateRequest struct {
	ChartRoot string `json:"chartRoot,omitempty"`
	Immediate bool   `json:"immediate,omitempty"`
	All       bool   `json:"all,omitempty"`
}

// SelectRequest selects an override file for a chart
type SelectRequest struct {
	Chart  string `json:"chart"`
	Values string `json:"values"`
}

// RemoveSelectionRequest clears a chart's override selection
type RemoveSelectionRequest struct {
	Chart string `json:"chart"`
}

// SelectionsResponse lists override selections
type SelectionsResponse struct {
	Selections []selection.Selection `json:"selections"`
}

// WarningsResponse lists recent archive warnings
type WarningsResponse struct {
	Warnings []notify.Warning `json:"warnings"`
}

// ErrorResponse represents API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents API success response
type SuccessResponse struct {
	Message string `json:"message"`
}
