package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oleksiyp/helmlens/internal/config"
	"github.com/oleksiyp/helmlens/internal/logging"
	"github.com/oleksiyp/helmlens/internal/version"
	"github.com/oleksiyp/helmlens/pkg/lens"
	"github.com/oleksiyp/helmlens/pkg/notify"
	"github.com/oleksiyp/helmlens/pkg/selection"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	globalLogger *zap.Logger
	globalConfig *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		workspace  string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "helmlens",
		Short: "Resolve Helm chart values the way templates see them",
		Long: `Helmlens answers questions about Helm chart values:
- which chart and subchart a file belongs to
- the effective values a (sub)chart template sees
- where a value is defined: override file, parent chart or chart defaults
- what every .Values reference in a template resolves to`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(mustGetwd())
			if configFile != "" {
				loader = loader.WithFile(configFile)
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workspace") {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return fmt.Errorf("failed to resolve workspace: %w", err)
				}
				cfg.Workspace = abs
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			globalConfig = cfg
			globalLogger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if globalLogger != nil {
				_ = globalLogger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: .helmlens.yaml in the working directory or $HOME)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace root bounding chart detection")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newDetectCmd())
	rootCmd.AddCommand(newValuesCmd())
	rootCmd.AddCommand(newRefsCmd())
	rootCmd.AddCommand(newLocateCmd())
	rootCmd.AddCommand(newTreeCmd())
	rootCmd.AddCommand(newFindCmd())
	rootCmd.AddCommand(newSelectCmd())
	rootCmd.AddCommand(newUnselectCmd())
	rootCmd.AddCommand(newSelectionsCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newService builds a service from the loaded configuration with the
// persisted override selections
func newService(extra ...lens.Option) (*lens.Service, error) {
	cfg := globalConfig
	selections := selection.NewManager(cfg.SelectionsPath(mustGetwd()))
	if err := selections.Load(); err != nil {
		return nil, fmt.Errorf("failed to load selections: %w", err)
	}

	opts := []lens.Option{
		lens.WithLogger(globalLogger),
		lens.WithDebounce(cfg.Debounce),
		lens.WithOverridePatterns(cfg.OverridePatterns...),
		lens.WithSelections(selections),
	}
	if cfg.Workspace != "" {
		opts = append(opts, lens.WithWorkspaceRoot(cfg.Workspace))
	}
	if cfg.Daemon.WarningsWebhook != "" {
		opts = append(opts, lens.WithNotifier(notify.NewWebhookNotifier(cfg.Daemon.WarningsWebhook, globalLogger)))
	}
	return lens.NewService(append(opts, extra...)...), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return abs, nil
}
