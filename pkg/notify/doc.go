// Package notify provides the self-signalling wakeup channels used between
// producers (console reader, control socket, log pump) and the command
// dispatcher.
//
// A Channel carries no data: it is a coalescing "work pending" flag plus a
// wakeup. Producers enqueue their payload elsewhere and call Signal; the
// consumer calls Wait or selects on C and then Drain before processing.
//
// # Usage
//
//	ch := notify.New("console")
//	go func() {
//		queue.Push(line)
//		ch.Signal()
//	}()
//	for ch.Wait(ctx) == nil {
//		processQueue()
//	}
package notify
