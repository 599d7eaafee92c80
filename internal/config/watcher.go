package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/metrics"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads the config file when it changes and hands the new value to
// OnReload. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	logger   *zap.Logger
	OnReload func(*Config)
}

func NewWatcher(path string, logger *zap.Logger, onReload func(*Config)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: path, logger: logger, OnReload: onReload}
}

// Run blocks until ctx is done. The directory is watched rather than the
// file so that editors which replace the file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	target := filepath.Clean(w.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}
		case <-pending:
			pending = nil
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		metrics.ConfigReloads.WithLabelValues(metrics.ResultFailure).Inc()
		w.logger.Error("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	metrics.ConfigReloads.WithLabelValues(metrics.ResultSuccess).Inc()
	w.logger.Info("config reloaded", zap.String("path", w.path))
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}
