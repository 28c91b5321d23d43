package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/oleksiyp/helmlens/pkg/daemon"
	"github.com/oleksiyp/helmlens/pkg/lens"
	"github.com/oleksiyp/helmlens/pkg/notify"
	"github.com/oleksiyp/helmlens/pkg/watch"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Watch charts and report changes that invalidate values",
		Long: `Watch chart directories and invalidate cached values when Chart.yaml,
values files or packaged charts change. Archive warnings are printed as
they happen.

Example:
  helmlens watch charts/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, err := watchRoots(args)
			if err != nil {
				return err
			}
			service, err := newService(lens.WithNotifier(notify.NewWriterNotifier(cmd.ErrOrStderr())))
			if err != nil {
				return err
			}
			defer service.Close()

			out := cmd.OutOrStdout()
			handler := watch.HandlerFunc(func(ctx context.Context, path string) {
				fmt.Fprintf(out, "%s %s\n", warn("changed"), path)
				service.HandleChange(ctx, path)
			})
			w, err := watch.New(roots, handler, globalLogger.Named("watch"))
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			w.Start(ctx)
			fmt.Fprintf(out, "%s Watching %d directories, press Ctrl+C to stop\n", success("✓"), len(w.WatchList()))
			<-ctx.Done()

			fmt.Fprintln(out, "\nStopping watcher...")
			return w.Stop()
		},
	}
}

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run helmlens as a background API server",
	}
	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long: `Start the API server. With --detach the daemon runs in the background and
logs to the configured log file.

Examples:
  helmlens daemon start --detach
  curl -s localhost:8765/api/v1/status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := globalConfig
			if detach {
				return startDetached(cmd)
			}

			service, err := newService()
			if err != nil {
				return err
			}

			daemonCfg := daemon.DaemonConfig{
				PIDFile: cfg.Daemon.PIDFile,
				LogFile: cfg.Daemon.LogFile,
				APIAddr: cfg.Daemon.APIAddr,
			}
			if cfg.Watch.Enabled {
				roots, err := watchRoots(nil)
				if err != nil {
					return err
				}
				daemonCfg.WatchRoots = roots
			}

			d, err := daemon.NewDaemon(daemonCfg, service, globalLogger.Named("daemon"))
			if err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Daemon listening on %s\n", success("✓"), d.Addr())
			return d.Wait()
		},
	}

	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run in the background")
	return cmd
}

// startDetached re-runs the current command without --detach in a new
// session with output redirected to the log file
func startDetached(cmd *cobra.Command) error {
	cfg := globalConfig
	if running, _ := daemon.IsDaemonRunning(cfg.Daemon.PIDFile); running {
		return fmt.Errorf("daemon already running (PID file: %s)", cfg.Daemon.PIDFile)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	args := []string{"daemon", "start"}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name != "detach" {
			args = append(args, "--"+f.Name+"="+f.Value.String())
		}
	})

	logFile, err := os.OpenFile(cfg.Daemon.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	globalLogger.Info("daemon started in background", zap.Int("pid", child.Process.Pid))
	fmt.Fprintf(cmd.OutOrStdout(), "%s Daemon started (PID %d), logging to %s\n", success("✓"), child.Process.Pid, cfg.Daemon.LogFile)
	return child.Process.Release()
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.StopDaemon(globalConfig.Daemon.PIDFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Daemon stopped\n", success("✓"))
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var output outputFormat

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := daemon.GetDaemonStatus(globalConfig.Daemon.PIDFile, globalConfig.Daemon.APIAddr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == formatJSON {
				return printJSON(out, status)
			}
			if !status.Running {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			fmt.Fprintf(out, "Daemon is %s (PID %d, up %s)\n", success("running"), status.PID, status.Uptime)
			fmt.Fprintf(out, "  Selections:           %d\n", status.Selections)
			fmt.Fprintf(out, "  Cached values:        %d\n", status.Cache.Values.Values)
			fmt.Fprintf(out, "  Cached subcharts:     %d\n", status.Cache.Values.Subcharts)
			fmt.Fprintf(out, "  Cached archives:      %d\n", status.Cache.Archives)
			fmt.Fprintf(out, "  Pending invalidation: %d\n", status.Cache.PendingInvalidations)
			fmt.Fprintf(out, "  Watched directories:  %d\n", len(status.Watching))
			return nil
		},
	}

	addOutputFlag(cmd.Flags(), &output, formatText)
	return cmd
}

// watchRoots returns dirs as absolute paths, defaulting to the workspace or
// the working directory
func watchRoots(dirs []string) ([]string, error) {
	if len(dirs) == 0 {
		if globalConfig.Workspace != "" {
			return []string{globalConfig.Workspace}, nil
		}
		return []string{mustGetwd()}, nil
	}
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := absPath(dir)
		if err != nil {
			return nil, err
		}
		roots = append(roots, abs)
	}
	return roots, nil
}
