// Package launcher starts the host's auxiliary workers: the watchdog, the
// script runner, the log pump and the platform message pump.
//
// Each worker runs on a goroutine locked to its own OS thread so that a
// scheduling priority can be applied to it. Priorities below the process's
// privilege floor are clamped, not rejected. Once shutdown has begun no new
// worker starts.
//
// # Usage
//
//	l := launcher.New(state,
//		launcher.WithLogger(logger),
//		launcher.WithPriorityFloor(0),
//		launcher.WithCriticalFailureHandler(func(name string, err error) {
//			coord.Abort(ctx, err)
//		}),
//	)
//	_, err := l.Launch(ctx, launcher.Task{
//		Name:     "watchdog",
//		Priority: enginePrio + 1,
//		Critical: true,
//		Body:     monitor.Run,
//	})
package launcher
