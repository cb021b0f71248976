package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/enginehost/internal/cliconfig"
	"github.com/bft-labs/enginehost/internal/hostinfo"
	"github.com/bft-labs/enginehost/pkg/host"
	"github.com/bft-labs/enginehost/pkg/log"
	"github.com/bft-labs/enginehost/pkg/logpump"
	"github.com/bft-labs/enginehost/pkg/watchdog"
	"github.com/bft-labs/enginehost/plugins/configwatcher"
	"github.com/bft-labs/enginehost/plugins/control"
)

const helpDescription = `
Run a set of processing engines under a supervising control plane.

Highlights:
  - A watchdog raises a machine check on any engine that stops making progress.
  - Interrupt once to arm instruction stepping, twice to force shutdown.
  - Termination requests drain the engines; close events exit immediately.
  - Commands come from the console, an rc script or a TCP control socket.
`

var exampleUsage = strings.TrimSpace(`
  enginehost --engines 4 --rcfile boot.rc
  enginehost -d --control-addr 127.0.0.1:3270 < commands.txt
  enginehost --config $HOME/.enginehost/config.toml --stall-policy fatal
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var (
		cfgPath  string
		daemon   bool
		exitCode int
	)

	startupLog := cliconfig.Logger()

	root := &cobra.Command{
		Use:           "enginehost",
		Short:         "Run processing engines under a supervising control plane",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Determine config path: flag, then $ENGINEHOST_CNF, then the home default
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["daemon"] {
				cfg.Daemon = &daemon
			}

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			} else {
				cfgFile = ""
			}

			// Environment overrides the file; explicitly set flags override both
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cliconfig.SetLevel(cfg.LogLevel); err != nil {
				return err
			}

			// Every log line also goes through the pump, which feeds the mirror file
			pump := logpump.New(logpump.DefaultQueueSize)
			zl := cliconfig.Logger(pump)
			zl.Info().Interface("config", cfg).Str("config_file", cfgFile).Msg("configuration")
			logger := log.NewZerologAdapterWithLogger(zl)

			info := hostinfo.Detect()
			info.Report(logger)
			if cfg.Daemon == nil {
				cfg.Daemon = &info.Daemon
			}
			if cfg.ClampPriorities(info.Privileged) {
				logger.Warn("not privileged, negative priorities raised to 0")
			}

			opts := []host.Option{
				host.WithLogger(logger),
				host.WithLogPump(pump),
			}
			if cfg.WatchConfig {
				wc := configwatcher.DefaultConfig()
				wc.Changed = changed
				opts = append(opts, configwatcher.WithConfigWatcher(wc))
			}
			if cfg.ControlAddr != "" {
				opts = append(opts, control.WithControl(control.Config{Addr: cfg.ControlAddr}))
			}

			h, err := host.New(host.Config{
				Engines:          cfg.Engines,
				WatchdogInterval: cfg.WatchdogInterval,
				QuiesceTimeout:   cfg.QuiesceTimeout,
				HostPriority:     cfg.HostPriority,
				EnginePriority:   cfg.EnginePriority,
				ServicePriority:  cfg.ServicePriority,
				WatchdogPriority: cfg.WatchdogPriority(),
				Privileged:       info.Privileged,
				Daemon:           *cfg.Daemon,
				RCFile:           cfg.RCFile,
				StallPolicy:      watchdog.Policy(cfg.StallPolicy),
				LogMirror:        cfg.LogMirror,
				StateDir:         cfg.StateDir,
				ConfigPath:       cfgFile,
			}, opts...)
			if err != nil {
				return fmt.Errorf("create host: %w", err)
			}

			exitCode = func() int {
				defer h.Coordinator().AtExit()
				return h.Run(context.Background())
			}()
			return nil
		},
	}

	root.Flags().StringVarP(&cfgPath, "config", "f", "", "path to config file (default: $ENGINEHOST_CNF or $HOME/.enginehost/config.toml)")
	root.Flags().IntVar(&cfg.Engines, "engines", cfg.Engines, "number of engines")
	root.Flags().DurationVar(&cfg.WatchdogInterval, "watchdog-interval", cfg.WatchdogInterval, "interval between watchdog progress checks")
	root.Flags().DurationVar(&cfg.QuiesceTimeout, "quiesce-timeout", cfg.QuiesceTimeout, "how long a graceful shutdown waits for engines to stop")

	root.Flags().IntVar(&cfg.HostPriority, "host-prio", cfg.HostPriority, "priority of the host workers (nice units)")
	root.Flags().IntVar(&cfg.EnginePriority, "engine-prio", cfg.EnginePriority, "priority of the engine threads (nice units)")
	root.Flags().IntVar(&cfg.ServicePriority, "srv-prio", cfg.ServicePriority, "priority of the service workers (nice units)")

	root.Flags().BoolVarP(&daemon, "daemon", "d", false, "read commands from stdin line by line (default: when stdout and stderr are not terminals)")
	root.Flags().StringVarP(&cfg.RCFile, "rcfile", "r", cfg.RCFile, "command script to run at startup")
	root.Flags().StringVar(&cfg.ControlAddr, "control-addr", cfg.ControlAddr, "TCP address for the control socket (disabled when empty)")
	root.Flags().StringVar(&cfg.StallPolicy, "stall-policy", cfg.StallPolicy, "what a stalled engine triggers: escalate, log or fatal")

	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	root.Flags().StringVar(&cfg.LogMirror, "log-mirror", cfg.LogMirror, "file that receives a copy of every log line")
	root.Flags().StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for status.json (disabled when empty)")
	root.Flags().BoolVar(&cfg.WatchConfig, "watch-config", cfg.WatchConfig, "reload log level and watchdog interval when the config file changes")

	if err := root.Execute(); err != nil {
		startupLog.Error().Err(err).Msg("enginehost")
		os.Exit(1)
	}
	os.Exit(exitCode)
}
