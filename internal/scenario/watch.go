package scenario

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for more changes before
// reloading.
const DefaultDebounce = 500 * time.Millisecond

func isScenarioFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// Watch reloads the catalog whenever a scenario file under its directory
// changes. It blocks until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration) error {
	if c.dir == "" {
		return errors.New("scenario catalog has no directory to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := c.addWatches(w, c.dir); err != nil {
		return err
	}
	c.logger.Info("Scenario watcher started", "dir", c.dir, "debounce", debounce)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = c.addWatches(w, ev.Name)
					timer.Reset(debounce)
					continue
				}
			}
			if !isScenarioFile(ev.Name) {
				continue
			}
			c.logger.Debug("Scenario change detected", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("Scenario watcher error", "error", err)

		case <-timer.C:
			if err := c.Reload(); err != nil {
				c.logger.Error("Scenario reload failed", "error", err)
			}
		}
	}
}

func (c *Catalog) addWatches(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := d.Name()
		if strings.HasPrefix(base, ".") && p != root {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			c.logger.Warn("Failed to watch directory", "path", p, "error", err)
		}
		return nil
	})
}
