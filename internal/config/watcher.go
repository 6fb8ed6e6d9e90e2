package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultReloadInterval is how often [Watcher.Run] re-reads the file.
const DefaultReloadInterval = 5 * time.Second

// Watcher re-reads a config file and reports what changed as a [ConfigDiff].
// Edits that fail to parse or validate are rejected and the last good config
// stays current.
type Watcher struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path as the initial config. Unlike [Load], the file must
// exist: there is nothing to watch otherwise.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultReloadInterval}
	for _, o := range opts {
		o(w)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current = cfg
	w.sum = sha256.Sum256(data)
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Check re-reads the file once. changed is false when the content is
// byte-identical to the current config. On error the current config is
// kept.
func (w *Watcher) Check() (diff ConfigDiff, changed bool, err error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return ConfigDiff{}, false, fmt.Errorf("config: reload %q: %w", w.path, err)
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if sum == w.sum {
		return ConfigDiff{}, false, nil
	}
	cfg, err := parse(data)
	if err != nil {
		return ConfigDiff{}, false, fmt.Errorf("config: reload %q: %w", w.path, err)
	}
	diff = Diff(w.current, cfg)
	w.current = cfg
	w.sum = sum
	return diff, true, nil
}

// Run calls [Watcher.Check] every interval until ctx is done, passing each
// accepted change to apply. Rejected edits are logged. Run always returns
// nil so it can share an errgroup with the servers.
func (w *Watcher) Run(ctx context.Context, apply func(cfg *Config, diff ConfigDiff)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		diff, changed, err := w.Check()
		switch {
		case err != nil:
			slog.Warn("config reload rejected, keeping previous config", "path", w.path, "err", err)
		case changed:
			slog.Info("config reloaded", "path", w.path)
			if apply != nil {
				apply(w.Current(), diff)
			}
		}
	}
}
