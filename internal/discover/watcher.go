package discover

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flakenv/flakenv/internal/events"
	"github.com/flakenv/flakenv/pkg/types"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher publishes a descriptor-changed event when the watched flake
// file is written or replaced. It never re-runs the resolver itself;
// hosts decide whether a change warrants re-activation.
type Watcher struct {
	path     string
	broker   *events.Broker
	logger   *slog.Logger
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

func NewWatcher(path string, broker *events.Broker, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files via
	// rename, which drops a direct file watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		broker:   broker,
		logger:   logger,
		debounce: defaultDebounce,
		fsw:      fsw,
	}, nil
}

// Run consumes filesystem events until the context is cancelled or the
// watcher is closed. Rapid successive writes collapse into one published
// event per debounce window.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Info("descriptor changed on disk", "path", w.path)
			w.broker.Publish(types.Event{
				Type: types.EventDescriptorChanged,
				Path: w.path,
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
