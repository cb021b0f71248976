// Package signals turns asynchronous OS notifications into shutdown
// coordinator actions.
//
// The Router enforces the interrupt rules. An interrupt is only honoured
// when it belongs to the console thread. The first one arms stepping on
// the engines and sets the pending flag; a second one while the first is
// still pending escalates to an immediate shutdown. A termination request
// is only honoured for the main thread and starts a graceful shutdown.
// Platform close events always take the immediate path.
//
// # Usage
//
//	var src *signals.Source
//	router := signals.NewRouter(state, coord, engines,
//		signals.WithLogger(logger),
//		signals.WithEscalationHook(func() { src.Release() }),
//	)
//	src = signals.NewSource(router, state, logger)
//	if err := src.Start(); err != nil {
//		coord.Abort(ctx, err)
//	}
//	go router.Run(ctx)
//	go src.Run(ctx)
package signals
