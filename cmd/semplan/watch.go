package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is how long a plan file must stay quiet before a re-run.
const defaultDebounce = 500 * time.Millisecond

// planWatcher re-runs a plan when its file changes.
type planWatcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

func newPlanWatcher(path string, debounce time.Duration, logger *slog.Logger) *planWatcher {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &planWatcher{path: filepath.Clean(path), debounce: debounce, logger: logger}
}

// Run calls onChange after each burst of changes to the plan file until ctx
// is done. Saves that leave the content unchanged are ignored.
//
// The parent directory is watched rather than the file, so editors that save
// by renaming a temporary file are still seen.
func (w *planWatcher) Run(ctx context.Context, onChange func(context.Context)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	lastHash, _ := fileHash(w.path)
	w.logger.Info("Watching plan", "plan", w.path, "debounce", w.debounce)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	var (
		pending   bool
		lastEvent time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = true
			lastEvent = time.Now()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err)

		case <-ticker.C:
			if !pending || time.Since(lastEvent) < w.debounce {
				continue
			}
			pending = false

			hash, err := fileHash(w.path)
			if err != nil {
				// Mid-rename or deleted; the next event brings it back.
				w.logger.Debug("Plan file unreadable", "plan", w.path, "error", err)
				continue
			}
			if hash == lastHash {
				continue
			}
			lastHash = hash
			w.logger.Info("Plan changed, re-running", "plan", w.path)
			onChange(ctx)
		}
	}
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
