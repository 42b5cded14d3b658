package templates

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/sanitize"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize template watcher")

const defaultDebounce = 250 * time.Millisecond

// ApplyFunc receives a freshly loaded template list.
type ApplyFunc func(ctx context.Context, list []Template) error

// Watcher reloads a template file when it changes on disk.
//
// The parent directory is watched rather than the file itself, so editors
// that replace the file through a rename are picked up.
type Watcher struct {
	path     string
	apply    ApplyFunc
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a watcher for path. Run must be called to start it.
func NewWatcher(path string, apply ApplyFunc, logger *logging.Logger) (*Watcher, error) {
	if apply == nil {
		return nil, fmt.Errorf("apply func is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	abs, err := sanitize.ValidatePath(path, "")
	if err != nil {
		return nil, fmt.Errorf("template file: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrWatcherFailed, filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		apply:    apply,
		logger:   logger.Named("templates"),
		watcher:  fw,
		debounce: defaultDebounce,
	}, nil
}

// Run processes filesystem events until ctx is cancelled. Bursts of events
// are coalesced into one reload. A file that fails to load is logged and the
// previous templates stay in effect.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "template watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	list, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn(ctx, "template reload failed, keeping previous templates",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	if err := w.apply(ctx, list); err != nil {
		w.logger.Error(ctx, "applying reloaded templates", zap.Error(err))
		return
	}
	w.logger.Info(ctx, "templates reloaded",
		zap.String("path", w.path),
		zap.Int("count", len(list)),
	)
}
