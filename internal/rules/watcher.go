package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Reloader is anything that can re-read its configuration.
type Reloader interface {
	Reload() error
}

// Watcher reloads on changes to the watched files or directories.
type Watcher struct {
	paths    []string
	target   Reloader
	debounce time.Duration
	logger   *zap.Logger
}

func NewWatcher(paths []string, target Reloader, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{paths: paths, target: target, debounce: defaultDebounce, logger: log}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	files := make(map[string]struct{})
	ruleDirs := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		if info.IsDir() {
			ruleDirs[abs] = struct{}{}
			dirs[abs] = struct{}{}
		} else {
			files[abs] = struct{}{}
			// editors replace files, so the directory is watched instead of the inode
			dirs[filepath.Dir(abs)] = struct{}{}
		}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	relevant := func(name string) bool {
		abs, err := filepath.Abs(name)
		if err != nil {
			return false
		}
		if _, ok := files[abs]; ok {
			return true
		}
		_, ok := ruleDirs[filepath.Dir(abs)]
		return ok && isDocument(abs)
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 || !relevant(ev.Name) {
				continue
			}
			w.logger.Debug("rule file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rule watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			if err := w.target.Reload(); err != nil {
				w.logger.Warn("rule reload failed", zap.Error(err))
			}
		}
	}
}
