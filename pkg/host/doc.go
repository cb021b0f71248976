// Package host assembles the engine host control plane and runs it.
//
// A Host owns the process control state and the shutdown coordinator, and
// starts the auxiliary workers through the launcher: the platform message
// pump and signal router, the engine threads, the watchdog, the command
// dispatcher, the console reader and the log pump. Run blocks until the
// shutdown sequence has finished and returns the exit status.
//
// # Usage
//
//	h, err := host.New(cfg,
//	    host.WithLogger(logger),
//	    host.WithLogPump(pump),
//	    host.WithPlugin(control.New(control.Config{Addr: ":3270"})),
//	)
//	if err != nil {
//	    return err
//	}
//	code := func() int {
//	    defer h.Coordinator().AtExit()
//	    return h.Run(ctx)
//	}()
//	os.Exit(code)
//
// # Commands
//
// The console, the rc script and the control socket share one command set:
// quit [force], exit, status, start [n], stop [n], wait n on|off,
// hang n [on|off], online n on|off, watchdog [interval], loglevel and help.
//
// # Plugins
//
// Plugins initialize in the order they were added, after the core workers
// are running. Their Shutdown runs as a shutdown cleanup, so in reverse
// order and exactly once.
package host
