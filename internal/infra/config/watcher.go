package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

// Watcher implements spec §4.G: every 5 seconds it polls the
// modification times of the config file and the schema-cache file;
// a config change invokes onConfigChanged, a cache change invokes
// onCacheChanged. The 5s poll is authoritative; fsnotify is wired in
// only as an accelerator that wakes the poll loop early on a config
// file event (debounced 50ms, mirroring the teacher's
// DynamicCatalogProvider), so a coalesced or missed fsnotify event
// never causes a missed reload, only a later one.
type Watcher struct {
	configPath string
	cachePath  string
	interval   time.Duration

	onConfigChanged func()
	onCacheChanged  func()

	logger *zap.Logger
	wake   chan struct{}
}

// NewWatcher constructs a Watcher. interval defaults to
// domain.ConfigPollInterval when zero.
func NewWatcher(configPath, cachePath string, interval time.Duration, onConfigChanged, onCacheChanged func(), logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = domain.ConfigPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		configPath:      configPath,
		cachePath:       cachePath,
		interval:        interval,
		onConfigChanged: onConfigChanged,
		onCacheChanged:  onCacheChanged,
		logger:          logger.Named("config_watcher"),
		wake:            make(chan struct{}, 1),
	}
}

// Run blocks until ctx is done, polling on Watcher.interval (and
// whenever the fsnotify accelerator wakes it early).
func (w *Watcher) Run(ctx context.Context) {
	w.startAccelerator(ctx)

	lastConfigMod, _ := modTime(w.configPath)
	lastCacheMod, _ := modTime(w.cachePath)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}

		if mt, ok := modTime(w.configPath); ok && mt.After(lastConfigMod) {
			lastConfigMod = mt
			w.logger.Info("config file changed", zap.String("path", w.configPath))
			if w.onConfigChanged != nil {
				w.onConfigChanged()
			}
		}

		if mt, ok := modTime(w.cachePath); ok && mt.After(lastCacheMod) {
			lastCacheMod = mt
			w.logger.Info("schema cache file changed", zap.String("path", w.cachePath))
			if w.onCacheChanged != nil {
				w.onCacheChanged()
			}
		}
	}
}

func (w *Watcher) startAccelerator(ctx context.Context) {
	if w.configPath == "" {
		return
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, relying on the poll loop alone", zap.Error(err))
		return
	}
	dir := filepath.Dir(w.configPath)
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("fsnotify could not watch config directory, relying on the poll loop alone", zap.String("dir", dir), zap.Error(err))
		_ = fsw.Close()
		return
	}

	target := filepath.Clean(w.configPath)
	go func() {
		defer fsw.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(50*time.Millisecond, func() {
					select {
					case w.wake <- struct{}{}:
					default:
					}
				})
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func modTime(path string) (time.Time, bool) {
	if path == "" {
		return time.Time{}, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
