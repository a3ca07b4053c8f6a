package bundle

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches a directory for bundle archives and loads them on demand.
// New or rewritten .zip files are loaded; removed files are unloaded.
type Watcher struct {
	loader  *Loader
	dir     string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewWatcher creates a watcher over a bundle directory.
func NewWatcher(loader *Loader, dir string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		loader: loader,
		dir:    dir,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// LoadExisting loads every bundle archive already present in the directory.
// Load failures are logged and skipped so one bad bundle does not block the
// rest.
func (w *Watcher) LoadExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !isBundleFile(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if _, err := w.loader.Load(ctx, path); err != nil {
			w.logger.Error().Err(err).Str("path", path).Msg("skipping bundle")
		}
	}
	return nil
}

// Start begins watching the directory. Events are handled on a background
// goroutine until Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	go w.watchLoop(ctx)

	w.logger.Info().Str("dir", w.dir).Msg("watching bundle directory")
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isBundleFile(event.Name) {
				continue
			}

			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("bundle file changed")

				// A rewrite of a loaded archive means reload.
				if name, loaded := w.loader.bundleForPath(event.Name); loaded {
					if err := w.loader.Unload(ctx, name); err != nil {
						w.logger.Error().Err(err).Str("bundle", name).Msg("reload unload failed")
						continue
					}
				}
				if _, err := w.loader.Load(ctx, event.Name); err != nil {
					w.logger.Error().Err(err).Str("path", event.Name).Msg("watch load failed")
				}

			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if name, loaded := w.loader.bundleForPath(event.Name); loaded {
					if err := w.loader.Unload(ctx, name); err != nil {
						w.logger.Error().Err(err).Str("bundle", name).Msg("watch unload failed")
					}
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("bundle watcher error")

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func isBundleFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".zip")
}
