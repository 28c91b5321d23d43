// Package daemon runs helmlens in the background and serves its operations
// over a local HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/oleksiyp/helmlens/pkg/lens"
	"github.com/oleksiyp/helmlens/pkg/watch"
	"go.uber.org/zap"
)

const (
	DefaultPIDFile = "/tmp/helmlens.pid"
	DefaultLogFile = "/tmp/helmlens.log"
	DefaultAPIAddr = "127.0.0.1:8765"
)

// NewDaemon creates a new daemon serving service
func NewDaemon(config DaemonConfig, service *lens.Service, logger *zap.Logger) (*Daemon, error) {
	if service == nil {
		return nil, errors.New("daemon requires a service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PIDFile == "" {
		config.PIDFile = DefaultPIDFile
	}
	if config.LogFile == "" {
		config.LogFile = DefaultLogFile
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		pidFile:    config.PIDFile,
		logFile:    config.LogFile,
		apiAddr:    config.APIAddr,
		service:    service,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan string, 1),
		startTime:  time.Now(),
	}

	if len(config.WatchRoots) > 0 {
		w, err := watch.New(config.WatchRoots, service, logger.Named("watch"))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = w
	}

	d.apiServer = NewAPIServer(d, logger.Named("api"))
	return d, nil
}

// Start starts the daemon
func (d *Daemon) Start() error {
	if running, err := d.IsRunning(); err == nil && running {
		return fmt.Errorf("daemon already running (PID file: %s)", d.pidFile)
	}

	listener, err := net.Listen("tcp", d.apiAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.apiAddr, err)
	}
	d.listener = listener

	if err := d.writePIDFile(); err != nil {
		listener.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("daemon starting",
		zap.String("pidFile", d.pidFile),
		zap.String("logFile", d.logFile),
		zap.String("apiAddr", listener.Addr().String()))

	d.apiServer.Serve(listener)

	if d.watcher != nil {
		d.watcher.Start(d.ctx)
		d.logger.Info("watching charts", zap.Int("directories", len(d.watcher.WatchList())))
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			d.requestShutdown(sig.String())
		case <-d.ctx.Done():
		}
	}()

	d.logger.Info("daemon started successfully")
	return nil
}

// Addr returns the address the API listens on once started
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return d.apiAddr
	}
	return d.listener.Addr().String()
}

// Wait waits for a signal or an API shutdown request, then stops the daemon
func (d *Daemon) Wait() error {
	reason := <-d.shutdownCh
	d.logger.Info("received shutdown request", zap.String("reason", reason))
	return d.Stop()
}

func (d *Daemon) requestShutdown(reason string) {
	d.shutdownOnce.Do(func() {
		d.shutdownCh <- reason
	})
}

// Stop stops the daemon
func (d *Daemon) Stop() error {
	d.logger.Info("daemon stopping")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Error("failed to stop watcher", zap.Error(err))
		}
	}

	if err := d.apiServer.Stop(); err != nil {
		d.logger.Error("failed to stop API server", zap.Error(err))
	}

	d.service.Close()

	if err := d.removePIDFile(); err != nil && !os.IsNotExist(err) {
		d.logger.Error("failed to remove PID file", zap.Error(err))
	}

	d.logger.Info("daemon stopped")
	return nil
}

// IsRunning checks if the daemon is running
func (d *Daemon) IsRunning() (bool, error) {
	return IsDaemonRunning(d.pidFile)
}

// GetPID returns the daemon PID
func (d *Daemon) GetPID() (int, error) {
	return readPID(d.pidFile)
}

// GetStatus returns the daemon status
func (d *Daemon) GetStatus() Status {
	status := Status{
		Running:    true,
		PID:        os.Getpid(),
		StartTime:  d.startTime,
		Uptime:     time.Since(d.startTime).Round(time.Second).String(),
		Selections: len(d.service.Selections().List()),
		Cache:      d.service.Stats(),
	}
	if d.watcher != nil {
		status.Watching = d.watcher.WatchList()
	}
	return status
}

// Service returns the served lens service
func (d *Daemon) Service() *lens.Service {
	return d.service
}

func (d *Daemon) writePIDFile() error {
	pid := os.Getpid()
	return os.WriteFile(d.pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}

func (d *Daemon) removePIDFile() error {
	return os.Remove(d.pidFile)
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("daemon not running (PID file not found)")
		}
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %s", pidStr)
	}
	return pid, nil
}

// IsDaemonRunning checks if a daemon is running based on PID file
func IsDaemonRunning(pidFile string) (bool, error) {
	pid, err := readPID(pidFile)
	if err != nil {
		if _, statErr := os.Stat(pidFile); os.IsNotExist(statErr) {
			return false, nil
		}
		return false, err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}

	// Signal 0 only checks that the process exists
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}
	return true, nil
}

// StopDaemon stops a running daemon
func StopDaemon(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	for i := 0; i < 30; i++ {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}

	os.Remove(pidFile)
	return nil
}

// GetDaemonStatus returns the status of a daemon
func GetDaemonStatus(pidFile, apiAddr string) (*Status, error) {
	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		return nil, err
	}
	if !running {
		return &Status{Running: false}, nil
	}
	return NewAPIClient(apiAddr).GetStatus()
}
