package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Holder serves the current configuration and can reload it from disk while
// a server is running.
type Holder struct {
	cur  atomic.Pointer[Config]
	path string
}

// NewHolder holds cfg, which was loaded from path. path may be empty when
// the configuration did not come from a file.
func NewHolder(path string, cfg Config) *Holder {
	h := &Holder{path: path}
	h.cur.Store(&cfg)
	return h
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	return *h.cur.Load()
}

// Lookup returns the task called name from the current configuration.
func (h *Holder) Lookup(name string) (Task, error) {
	return h.Get().Lookup(name)
}

// Tasks returns the configured tasks.
func (h *Holder) Tasks() []Task {
	return h.Get().Tasks
}

// Reload re-reads the file. The previous configuration stays in place when
// the new one fails to load.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	cfg, err := LoadFile(h.path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", h.path, err)
	}
	h.cur.Store(&cfg)
	return nil
}

// Watch reloads the configuration whenever its file is written or replaced,
// until ctx is done. onChange, when non-nil, runs after each successful
// reload. The parent directory is watched so editors that replace the file
// are followed.
func (h *Holder) Watch(ctx context.Context, logger *slog.Logger, onChange func(Config)) error {
	if h.path == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close() //nolint:errcheck // already failing
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}

	target := filepath.Clean(h.path)
	go func() {
		defer w.Close() //nolint:errcheck // shutdown
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || (!ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create)) {
					continue
				}
				if err := h.Reload(); err != nil {
					logger.Warn("config reload failed, keeping previous config", "error", err)
					continue
				}
				cfg := h.Get()
				logger.Info("config reloaded", "path", h.path, "tasks", len(cfg.Tasks))
				if onChange != nil {
					onChange(cfg)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
