// Package configwatcher reloads the host configuration file when it
// changes. The log level and the watchdog interval are applied live;
// every other setting needs a restart.
package configwatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/enginehost/internal/cliconfig"
	"github.com/bft-labs/enginehost/pkg/host"
	"github.com/bft-labs/enginehost/pkg/launcher"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
)

// Plugin watches the configuration file and applies changes.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	debounceDelay time.Duration
	setLevel      func(level string) error
	changed       map[string]bool

	// Runtime state
	path     string
	state    *lifecycle.ProcessControl
	logger   log.Logger
	cancel   context.CancelFunc
	worker   *launcher.Handle
	debounce *time.Timer
	reloads  atomic.Uint64
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is the delay to wait after a file change before
	// reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// SetLevel applies a log level.
	// Default: cliconfig.SetLevel
	SetLevel func(level string) error

	// Changed names the flags set explicitly on the command line. Their
	// values win over the file, as they did at startup.
	Changed map[string]bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
		SetLevel:      cliconfig.SetLevel,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if cfg.SetLevel == nil {
		cfg.SetLevel = cliconfig.SetLevel
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		setLevel:      cfg.SetLevel,
		changed:       cfg.Changed,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching cfg.ConfigPath. Without a path the plugin
// stays idle.
func (p *Plugin) Initialize(ctx context.Context, cfg host.PluginConfig) error {
	p.mu.Lock()
	p.path = cfg.ConfigPath
	p.state = cfg.State
	p.logger = log.OrNoop(cfg.Logger).With(log.Component("configwatcher"))
	p.mu.Unlock()

	if p.path == "" {
		p.logger.Warn("config watcher disabled: no configuration file")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		p.logger.Warn("config watcher disabled: cannot watch directory",
			log.String("path", p.path), log.Err(err))
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	h, err := cfg.Launcher.Launch(watchCtx, launcher.Task{
		Name:     "configwatcher",
		Priority: cfg.ServicePriority,
		Body: func(ctx context.Context) error {
			defer watcher.Close()
			return p.watchLoop(ctx, watcher)
		},
	})
	if err != nil {
		cancel()
		watcher.Close()
		return err
	}

	p.mu.Lock()
	p.cancel = cancel
	p.worker = h
	p.mu.Unlock()

	p.logger.Info("config watcher started", log.String("path", p.path))
	return nil
}

// Shutdown stops the watcher and waits for its worker.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel, worker := p.cancel, p.worker
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-worker.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reloads returns how many times the file has been applied.
func (p *Plugin) Reloads() uint64 {
	return p.reloads.Load()
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) error {
	base := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := p.reload(); err != nil {
			p.logger.Warn("config reload failed", log.String("path", p.path), log.Err(err))
		}
	})
}

// reload applies the live-tunable settings from the file. Settings pinned
// by a command-line flag are left alone.
func (p *Plugin) reload() error {
	fc, err := cliconfig.LoadFileConfig(p.path)
	if err != nil {
		return err
	}

	var cfg cliconfig.Config
	if err := cliconfig.ApplyFileConfig(&cfg, fc, p.changed); err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		if err := p.setLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	if cfg.WatchdogInterval > 0 && p.state != nil {
		p.state.SetWatchdogInterval(cfg.WatchdogInterval)
	}

	p.reloads.Add(1)
	p.logger.Info("configuration reloaded",
		log.String("log_level", cfg.LogLevel),
		log.Duration("watchdog_interval", cfg.WatchdogInterval),
	)
	return nil
}

// Ensure Plugin implements host.Plugin.
var _ host.Plugin = (*Plugin)(nil)
