// ABOUTME: Asset directory watcher for hot reload
// ABOUTME: Reports changed audio files as slash-separated sources relative to the root
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harperreed/stagesound/pkg/audio/decode"
)

// Config holds watcher configuration
type Config struct {
	Root     string
	Debounce time.Duration // quiet period before a change is reported (default 150ms)
	Logger   *slog.Logger
}

// Watcher reports changed audio sources below Root
type Watcher struct {
	config   Config
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	onChange func(src string)
}

// New watches every existing directory below config.Root.
// onChange is called from Run's goroutine once per settled change.
func New(config Config, onChange func(src string)) (*Watcher, error) {
	if config.Debounce <= 0 {
		config.Debounce = 150 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		config:   config,
		logger:   config.Logger.With("module", "watch"),
		watcher:  fw,
		onChange: onChange,
	}
	if err := w.addTree(config.Root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run dispatches changes until ctx is done, then closes the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.config.Debounce / 2)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	w.logger.Info("watching assets", "root", w.config.Root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event, pending)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.config.Debounce {
					continue
				}
				delete(pending, path)
				if src, ok := w.source(path); ok {
					w.logger.Debug("asset changed", "src", src)
					w.onChange(src)
				}
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, pending map[string]time.Time) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}
	if _, err := decode.ForSource(event.Name); err != nil {
		return
	}
	pending[event.Name] = time.Now()
}

// source converts an absolute path to the source name used by players
func (w *Watcher) source(path string) (string, bool) {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
