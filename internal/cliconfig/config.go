package cliconfig

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bft-labs/enginehost/pkg/watchdog"
)

// Config holds CLI configuration for enginehost.
type Config struct {
	Engines          int
	WatchdogInterval time.Duration
	QuiesceTimeout   time.Duration

	HostPriority    int
	EnginePriority  int
	ServicePriority int

	// Daemon is nil when the mode should be detected from the terminal.
	Daemon *bool
	RCFile string

	ControlAddr string
	StallPolicy string

	LogLevel  string
	LogMirror string
	StateDir  string

	WatchConfig bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Engines:          2,
		WatchdogInterval: 20 * time.Second,
		QuiesceTimeout:   5 * time.Second,
		HostPriority:     0,
		EnginePriority:   15,
		ServicePriority:  0,
		StallPolicy:      string(watchdog.PolicyEscalate),
		LogLevel:         "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Engines <= 0 {
		return fmt.Errorf("engines must be positive")
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("watchdog interval must be positive")
	}
	if c.QuiesceTimeout <= 0 {
		return fmt.Errorf("quiesce timeout must be positive")
	}
	p, err := watchdog.ParsePolicy(c.StallPolicy)
	if err != nil {
		return err
	}
	c.StallPolicy = string(p)
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ClampPriorities raises negative priorities to 0 for an unprivileged
// process and reports whether anything changed.
func (c *Config) ClampPriorities(privileged bool) bool {
	if privileged {
		return false
	}
	clamped := false
	for _, p := range []*int{&c.HostPriority, &c.EnginePriority, &c.ServicePriority} {
		if *p < 0 {
			*p = 0
			clamped = true
		}
	}
	return clamped
}

// WatchdogPriority is one step below the engine priority, or the host
// priority when engines run at a negative (boosted) priority.
func (c *Config) WatchdogPriority() int {
	if c.EnginePriority >= 0 {
		return c.EnginePriority + 1
	}
	return c.HostPriority
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setPriority sets any int value, including zero and negatives, from a
// pointer if not nil and flag not changed.
func (s *configSetter) setPriority(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setOptionalBool is setBool for tri-state destinations.
func (s *configSetter) setOptionalBool(flag string, value *bool, dst **bool) {
	if value == nil || s.changed[flag] {
		return
	}
	v := *value
	*dst = &v
}

// setIntFromString parses a positive int from an environment string.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setPriorityFromString parses any int from an environment string.
func (s *configSetter) setPriorityFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// setOptionalBoolFromString is setBoolFromString for tri-state destinations.
func (s *configSetter) setOptionalBoolFromString(flag, value string, dst **bool) {
	if value == "" || s.changed[flag] {
		return
	}
	v := value == "true" || value == "1"
	*dst = &v
}
