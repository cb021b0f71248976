package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/enginehost/pkg/watchdog"
)

// Default configuration values.
const (
	DefaultEngines          = 2
	DefaultWatchdogInterval = 20 * time.Second
)

// Config holds the host configuration.
type Config struct {
	Engines          int
	WatchdogInterval time.Duration
	QuiesceTimeout   time.Duration

	// Worker priorities, in nice units. WatchdogPriority is derived by the
	// caller.
	HostPriority     int
	EnginePriority   int
	ServicePriority  int
	WatchdogPriority int

	// Privileged processes may raise priorities above normal.
	Privileged bool

	// Daemon selects line-oriented stdin instead of the interactive
	// console.
	Daemon bool
	RCFile string

	StallPolicy watchdog.Policy
	LogMirror   string
	StateDir    string
	ConfigPath  string
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.Engines == 0 {
		c.Engines = DefaultEngines
	}
	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.QuiesceTimeout == 0 {
		c.QuiesceTimeout = 5 * time.Second
	}
	if c.StallPolicy == "" {
		c.StallPolicy = watchdog.PolicyEscalate
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error
	if c.Engines < 0 {
		errs = append(errs, fmt.Errorf("engines must not be negative, got %d", c.Engines))
	}
	if c.WatchdogInterval < 0 {
		errs = append(errs, fmt.Errorf("watchdog interval must be positive, got %s", c.WatchdogInterval))
	}
	if c.QuiesceTimeout < 0 {
		errs = append(errs, fmt.Errorf("quiesce timeout must be positive, got %s", c.QuiesceTimeout))
	}
	if _, err := watchdog.ParsePolicy(string(c.StallPolicy)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
