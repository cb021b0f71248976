package host

import (
	"io"
	"os"
	"time"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
	"github.com/bft-labs/enginehost/pkg/logpump"
)

// Option configures optional behavior of a Host.
type Option func(*options)

type options struct {
	logger       log.Logger
	eventHandler lifecycle.EventEmitter
	plugins      []Plugin
	pump         *logpump.Pump
	stdin        io.Reader
	stdout       io.Writer
	engineCycle  time.Duration
	flushDelay   time.Duration
	levelSetter  func(level string) error
}

func defaultOptions() options {
	return options{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		flushDelay: lifecycle.DefaultFlushDelay,
	}
}

// WithLogger sets the logger. Without one the host logs nothing.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler receives every shutdown phase change, after the run
// status recorder.
func WithEventHandler(h lifecycle.EventEmitter) Option {
	return func(o *options) {
		o.eventHandler = h
	}
}

// WithPlugin adds a plugin. Plugins initialize in the order added.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, p)
	}
}

// WithLogPump hands the host the pump its logger writes into. The host
// runs the pump worker, attaches the mirror file and closes the pump
// during shutdown.
func WithLogPump(p *logpump.Pump) Option {
	return func(o *options) {
		o.pump = p
	}
}

// WithConsole replaces stdin and stdout for the command console.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(o *options) {
		o.stdin = in
		o.stdout = out
	}
}

// WithEngineCycle sets the simulated engines' step period.
func WithEngineCycle(d time.Duration) Option {
	return func(o *options) {
		o.engineCycle = d
	}
}

// WithFlushDelay sets the pause given to log output around forced exits.
func WithFlushDelay(d time.Duration) Option {
	return func(o *options) {
		o.flushDelay = d
	}
}

// WithLevelSetter installs the function the loglevel command uses.
func WithLevelSetter(fn func(level string) error) Option {
	return func(o *options) {
		o.levelSetter = fn
	}
}
