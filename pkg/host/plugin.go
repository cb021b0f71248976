package host

import (
	"context"
	"io"

	"github.com/bft-labs/enginehost/pkg/launcher"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
	"github.com/bft-labs/enginehost/pkg/logpump"
)

// Plugin extends the host with optional functionality. Plugins are
// initialized in registration order once the core workers are running.
// Their Shutdown runs as a shutdown cleanup, so in reverse order and
// exactly once.
type Plugin interface {
	Name() string
	Initialize(ctx context.Context, cfg PluginConfig) error
	Shutdown(ctx context.Context) error
}

// PluginConfig is what the host hands to each plugin.
type PluginConfig struct {
	// ConfigPath is the configuration file the host was started from, if
	// any.
	ConfigPath string

	Logger log.Logger
	State  *lifecycle.ProcessControl

	// Launcher starts plugin workers at ServicePriority.
	Launcher        *launcher.Launcher
	ServicePriority int

	// LogPump is nil when the host runs without one.
	LogPump *logpump.Pump

	// Submit queues a command line on the socket channel. done is called
	// once the command has run.
	Submit func(line string, out io.Writer, done func(err error))
}

// BasePlugin is a no-op Plugin to embed.
type BasePlugin struct {
	name string
}

// NewBasePlugin returns a BasePlugin called name.
func NewBasePlugin(name string) BasePlugin {
	return BasePlugin{name: name}
}

// Name returns the plugin name.
func (b BasePlugin) Name() string { return b.name }

// Initialize does nothing.
func (b BasePlugin) Initialize(ctx context.Context, cfg PluginConfig) error { return nil }

// Shutdown does nothing.
func (b BasePlugin) Shutdown(ctx context.Context) error { return nil }

var _ Plugin = BasePlugin{}
