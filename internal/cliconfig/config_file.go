package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// ConfigEnv names the environment variable holding the config file path.
const ConfigEnv = "ENGINEHOST_CNF"

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Engines          int    `toml:"engines"`
	WatchdogInterval string `toml:"watchdog_interval"`
	QuiesceTimeout   string `toml:"quiesce_timeout"`
	HostPriority     *int   `toml:"host_prio"`
	EnginePriority   *int   `toml:"engine_prio"`
	ServicePriority  *int   `toml:"srv_prio"`
	Daemon           *bool  `toml:"daemon"`
	RCFile           string `toml:"rc_file"`
	ControlAddr      string `toml:"control_addr"`
	StallPolicy      string `toml:"stall_policy"`
	LogLevel         string `toml:"log_level"`
	LogMirror        string `toml:"log_mirror"`
	StateDir         string `toml:"state_dir"`
	WatchConfig      *bool  `toml:"watch_config"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns $ENGINEHOST_CNF if set, otherwise
// ~/.enginehost/config.toml when the home directory is known.
func DefaultConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".enginehost", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setInt("engines", fc.Engines, &cfg.Engines)

	if err := s.setDuration("watchdog-interval", fc.WatchdogInterval, &cfg.WatchdogInterval); err != nil {
		return err
	}
	if err := s.setDuration("quiesce-timeout", fc.QuiesceTimeout, &cfg.QuiesceTimeout); err != nil {
		return err
	}

	s.setPriority("host-prio", fc.HostPriority, &cfg.HostPriority)
	s.setPriority("engine-prio", fc.EnginePriority, &cfg.EnginePriority)
	s.setPriority("srv-prio", fc.ServicePriority, &cfg.ServicePriority)

	s.setOptionalBool("daemon", fc.Daemon, &cfg.Daemon)
	s.setString("rcfile", fc.RCFile, &cfg.RCFile)
	s.setString("control-addr", fc.ControlAddr, &cfg.ControlAddr)
	s.setString("stall-policy", fc.StallPolicy, &cfg.StallPolicy)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-mirror", fc.LogMirror, &cfg.LogMirror)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setBool("watch-config", fc.WatchConfig, &cfg.WatchConfig)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
