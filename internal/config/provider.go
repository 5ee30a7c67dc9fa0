package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultReloadDebounce = 200 * time.Millisecond

// Provider supplies the current configuration. Implementations must be
// safe for concurrent use; callers treat the returned value as read-only.
type Provider interface {
	Config() *Config
}

// StaticProvider serves a config that only changes through Set.
type StaticProvider struct {
	cfg atomic.Pointer[Config]
}

// NewStaticProvider returns a provider serving cfg.
func NewStaticProvider(cfg *Config) *StaticProvider {
	p := &StaticProvider{}
	p.Set(cfg)
	return p
}

// Config implements Provider.
func (p *StaticProvider) Config() *Config {
	return p.cfg.Load()
}

// Set replaces the served config.
func (p *StaticProvider) Set(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p.cfg.Store(cfg)
}

// FileProvider serves the config loaded from a YAML file and reloads it
// when the file changes. A reload that fails keeps the previous config.
type FileProvider struct {
	path   string
	logger zerolog.Logger

	cfg      atomic.Pointer[Config]
	mu       sync.Mutex
	onReload []func(*Config)

	debounce time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewFileProvider loads path and returns a provider for it. Call Watch to
// start following changes.
func NewFileProvider(path string, logger zerolog.Logger) (*FileProvider, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	p := &FileProvider{
		path:     path,
		logger:   logger.With().Str("component", "config").Str("path", path).Logger(),
		debounce: defaultReloadDebounce,
	}
	p.cfg.Store(cfg)
	return p, nil
}

// Config implements Provider.
func (p *FileProvider) Config() *Config {
	return p.cfg.Load()
}

// OnReload registers fn to be called with each successfully reloaded config.
func (p *FileProvider) OnReload(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReload = append(p.onReload, fn)
}

// Reload re-reads the file immediately.
func (p *FileProvider) Reload() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}
	p.cfg.Store(cfg)

	p.mu.Lock()
	callbacks := append([]func(*Config){}, p.onReload...)
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	p.logger.Info().Msg("Configuration reloaded")
	return nil
}

// Watch starts following the file until ctx is cancelled or Close is called.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", p.path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer watcher.Close()
		p.run(ctx, watcher)
	}()
	return nil
}

// Close stops watching.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (p *FileProvider) run(ctx context.Context, watcher *fsnotify.Watcher) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn().Err(err).Msg("Config watcher error")
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !sameFile(event.Name, p.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(p.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.debounce)
		case <-timerChan(timer):
			timer = nil
			if err := p.Reload(); err != nil {
				p.logger.Warn().Err(err).Msg("Config reload failed, keeping previous configuration")
			}
		}
	}
}

func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
