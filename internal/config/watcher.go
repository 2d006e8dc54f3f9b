package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fingerprint identifies one revision of the config file. The modification
// time is the cheap check; the digest confirms a real edit.
type fingerprint struct {
	mtime  time.Time
	digest [sha256.Size]byte
}

// Watcher polls the config file and hands every valid revision to a
// callback together with its [ConfigDiff]. An edit that fails to parse or
// validate is logged and ignored; the bridge keeps running on the last good
// config, so a typo never takes the phone line down.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(cfg *Config, d ConfigDiff)

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	trigger  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange func(cfg *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, fp

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload asks for an immediate check that ignores the modification time,
// e.g. on SIGHUP. It does not block.
func (w *Watcher) Reload() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check(false)
		case <-w.trigger:
			w.check(true)
		}
	}
}

func (w *Watcher) check(force bool) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
			return
		}
		w.mu.Lock()
		unchanged := info.ModTime().Equal(w.seen.mtime)
		w.mu.Unlock()
		if unchanged {
			return
		}
	}

	cfg, fp, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	sameContent := fp.digest == w.seen.digest
	w.seen = fp
	prev := w.current
	if !sameContent {
		w.current = cfg
	}
	w.mu.Unlock()
	if sameContent {
		return
	}

	d := Diff(prev, cfg)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: changes take effect after restart", "sections", d.RestartRequired)
	}
	slog.Info("config watcher: reloaded",
		"path", w.path,
		"agent_changed", d.AgentChanged,
		"vad_changed", d.VADChanged,
		"log_level_changed", d.LogLevelChanged,
	)
	if w.onChange != nil {
		w.onChange(cfg, d)
	}
}

// read stats before reading so a write racing the read is seen again on the
// next tick.
func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{mtime: info.ModTime(), digest: sha256.Sum256(data)}, nil
}
