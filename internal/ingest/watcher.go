package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // if true, walk roots and emit existing files
	Debounce    time.Duration // quiet period before a batch is emitted
	SkipHidden  bool
	Logger      *slog.Logger
}

// Watch emits batches of settled, supported files under the roots. A batch
// is released once no create/write event arrived for Debounce, so a file
// still being copied is picked up only after the copy finishes.
func Watch(ctx context.Context, cfg WatchConfig) (<-chan []string, <-chan error, error) {
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	pending := map[string]struct{}{}
	wanted := func(path string) bool {
		return AllowedExt(filepath.Ext(path)) && !(cfg.SkipHidden && IsHidden(path))
	}
	addTree := func(root string, scan bool) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if path != root && cfg.SkipHidden && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if scan && wanted(path) {
				pending[path] = struct{}{}
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addTree(r, cfg.InitialScan); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	batches := make(chan []string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		timer := time.NewTimer(cfg.Debounce)
		if len(pending) == 0 {
			timer.Stop()
		}
		defer timer.Stop()

		flush := func() {
			batch := make([]string, 0, len(pending))
			for p := range pending {
				if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
					batch = append(batch, p)
				}
			}
			pending = map[string]struct{}{}
			if len(batch) == 0 {
				return
			}
			sort.Strings(batch)
			select {
			case batches <- batch:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					if st, err := os.Stat(e.Name); err == nil && st.IsDir() {
						if err := addTree(e.Name, true); err != nil {
							logger.Warn("failed to add new directory to watcher", "path", e.Name, "error", err)
						}
						timer.Reset(cfg.Debounce)
						continue
					}
				}
				if (e.Has(fsnotify.Create) || e.Has(fsnotify.Write)) && wanted(e.Name) {
					pending[e.Name] = struct{}{}
					timer.Reset(cfg.Debounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			case <-timer.C:
				flush()
			}
		}
	}()

	return batches, errCh, nil
}
