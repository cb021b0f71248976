package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (ENGINEHOST_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	if err := s.setIntFromString("engines", os.Getenv("ENGINEHOST_ENGINES"), &cfg.Engines); err != nil {
		return err
	}
	if err := s.setDuration("watchdog-interval", os.Getenv("ENGINEHOST_WATCHDOG_INTERVAL"), &cfg.WatchdogInterval); err != nil {
		return err
	}
	if err := s.setDuration("quiesce-timeout", os.Getenv("ENGINEHOST_QUIESCE_TIMEOUT"), &cfg.QuiesceTimeout); err != nil {
		return err
	}

	if err := s.setPriorityFromString("host-prio", os.Getenv("ENGINEHOST_HOST_PRIO"), &cfg.HostPriority); err != nil {
		return err
	}
	if err := s.setPriorityFromString("engine-prio", os.Getenv("ENGINEHOST_ENGINE_PRIO"), &cfg.EnginePriority); err != nil {
		return err
	}
	if err := s.setPriorityFromString("srv-prio", os.Getenv("ENGINEHOST_SRV_PRIO"), &cfg.ServicePriority); err != nil {
		return err
	}

	s.setOptionalBoolFromString("daemon", os.Getenv("ENGINEHOST_DAEMON"), &cfg.Daemon)
	s.setString("rcfile", os.Getenv("ENGINEHOST_RC"), &cfg.RCFile)
	s.setString("control-addr", os.Getenv("ENGINEHOST_CONTROL_ADDR"), &cfg.ControlAddr)
	s.setString("stall-policy", os.Getenv("ENGINEHOST_STALL_POLICY"), &cfg.StallPolicy)
	s.setString("log-level", os.Getenv("ENGINEHOST_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-mirror", os.Getenv("ENGINEHOST_LOG_MIRROR"), &cfg.LogMirror)
	s.setString("state-dir", os.Getenv("ENGINEHOST_STATE_DIR"), &cfg.StateDir)
	s.setBoolFromString("watch-config", os.Getenv("ENGINEHOST_WATCH_CONFIG"), &cfg.WatchConfig)

	return nil
}
