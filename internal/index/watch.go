package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the catalog must stay quiet before re-ingestion.
const DefaultDebounce = 500 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	// Debounce coalesces bursts of writes (default DefaultDebounce).
	Debounce time.Duration

	// OnRun is called after every re-ingestion with its outcome.
	OnRun func(*RunnerResult, error)
}

// Watch re-runs ingestion whenever cfg.CatalogPath changes, until ctx is
// done. It watches the parent directory so editors that save by rename are
// still seen. A failed run is reported and watching continues; runs never
// overlap. Watch does not perform an initial run.
func Watch(ctx context.Context, runner *Runner, cfg RunnerConfig, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	catalog, err := filepath.Abs(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("resolve catalog path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(catalog)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(catalog), err)
	}

	slog.Info("index_watch_started",
		slog.String("catalog", catalog),
		slog.Duration("debounce", opts.Debounce))

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
			slog.Info("index_watch_stopped", slog.String("catalog", catalog))
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isCatalogChange(event, catalog) {
				continue
			}
			slog.Debug("index_watch_event",
				slog.String("op", event.Op.String()),
				slog.String("path", event.Name))
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
			} else {
				timer.Reset(opts.Debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("index_watch_error", slog.String("error", err.Error()))

		case <-fire:
			fire = nil
			result, err := runner.Run(ctx, cfg)
			if err != nil {
				slog.Error("index_watch_run_failed",
					slog.String("catalog", catalog),
					slog.String("error", err.Error()))
			}
			if opts.OnRun != nil {
				opts.OnRun(result, err)
			}
		}
	}
}

func isCatalogChange(event fsnotify.Event, catalog string) bool {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != catalog {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
