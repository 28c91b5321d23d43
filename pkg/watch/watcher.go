// Package watch forwards changes of chart files to a handler so cached
// values can be invalidated.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oleksiyp/helmlens/pkg/archive"
	"go.uber.org/zap"
)

// Handler receives every relevant changed path
type Handler interface {
	HandleChange(ctx context.Context, path string)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, path string)

// HandleChange calls f
func (f HandlerFunc) HandleChange(ctx context.Context, path string) { f(ctx, path) }

// Watcher watches directory trees for chart file changes
type Watcher struct {
	watcher  *fsnotify.Watcher
	handler  Handler
	logger   *zap.Logger
	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over every directory below roots. Hidden
// directories are skipped.
func New(roots []string, handler Handler, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		watcher: fw,
		handler: handler,
		logger:  logger,
		doneCh:  make(chan struct{}),
	}
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Start runs the event loop until ctx is cancelled or Stop is called
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop ends the event loop and releases the watches
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.doneCh
		}
		err = w.watcher.Close()
	})
	return err
}

// WatchList returns the watched directories
func (w *Watcher) WatchList() []string {
	return w.watcher.WatchList()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory",
							zap.String("dir", event.Name),
							zap.Error(err))
					}
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if !Relevant(event.Name) {
				continue
			}
			w.logger.Debug("chart file changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()))
			w.handler.HandleChange(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Relevant reports whether a change to path can affect resolved values:
// chart metadata, YAML files and packaged charts
func Relevant(path string) bool {
	name := filepath.Base(path)
	if name == "Chart.yaml" || archive.IsArchive(name) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
