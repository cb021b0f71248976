// Package watchdog detects engines that have stopped making forward
// progress.
//
// Once per interval the Monitor samples every engine slot through an
// engine.StateView. Offline, stopped and waiting engines are skipped and
// their saved instruction counter is forgotten. A running engine whose
// counter matches the value saved on the previous tick is stalled: the
// optional StallHook is offered the stall first, and if it declines the
// engine is sent a machine-check fault and its saved counter forgotten, so
// one stall episode produces one fault.
//
// The monitor never terminates the process. PolicyFatal installs a hook
// that asks the shutdown coordinator to do so.
//
// # Usage
//
//	m := watchdog.New(state, engines, engines,
//		watchdog.WithLogger(logger),
//		watchdog.WithHook(watchdog.HookFor(policy, logger, request)),
//	)
//	launcher.Launch(ctx, launcher.Task{Name: "watchdog", Body: m.Run})
package watchdog
