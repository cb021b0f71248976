// Package lifecycle provides the process control block and the shutdown
// coordinator of the engine host.
//
// # State Machine
//
// The process moves through three phases and never backwards:
//   - Running -> ShuttingDown (exactly one trigger wins this transition)
//   - ShuttingDown -> Finished
//
// # Usage
//
//	pc := lifecycle.NewProcessControl(20 * time.Second)
//	coord := lifecycle.NewCoordinator(pc, lifecycle.DefaultConfig(), logger, engines, nil)
//	defer coord.AtExit()
//
//	_ = coord.Register("logger", func(ctx context.Context) error { return pump.Close() })
//
//	// From any goroutine, any number of times:
//	_ = coord.Request(ctx, lifecycle.ExplicitQuit())
//
//	<-coord.Done()
//	os.Exit(coord.ExitCode())
//
// # Termination paths
//
// The graceful path flushes output, stops engines and waits briefly for them
// to quiesce, then runs cleanups. The immediate path goes straight to the
// cleanups. Both end in Finished and both run every registered cleanup
// exactly once, newest first. Escalate is the separate path taken when a
// second operator interrupt arrives before the first was honoured; it
// releases the configuration before anything else.
//
// # Version
//
// Current version: 2.0.0
// Minimum compatible version: 2.0.0
package lifecycle
