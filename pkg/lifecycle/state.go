package lifecycle

import (
	"sync/atomic"
	"time"
)

// ThreadID identifies an OS thread.
type ThreadID uint64

// ProcessControl is the single process-wide control block. One instance is
// created at startup and passed to every component that needs it.
//
// Every method is lock-free and allocation-free except BeginShutdown and
// Finish, which close channels. Notification-delivery code may only use the
// flag methods.
type ProcessControl struct {
	phase             atomic.Int32
	shutdownRequested atomic.Bool
	shutdownImmediate atomic.Bool
	interruptPending  atomic.Bool

	consoleThread atomic.Uint64
	mainThread    atomic.Uint64

	watchdogInterval atomic.Int64

	shuttingDown chan struct{}
	finished     chan struct{}
}

// NewProcessControl creates a control block in PhaseRunning.
func NewProcessControl(watchdogInterval time.Duration) *ProcessControl {
	pc := &ProcessControl{
		shuttingDown: make(chan struct{}),
		finished:     make(chan struct{}),
	}
	pc.watchdogInterval.Store(int64(watchdogInterval))
	return pc
}

// Phase returns the current phase.
func (p *ProcessControl) Phase() Phase {
	return Phase(p.phase.Load())
}

// ShuttingDown reports whether the phase has left Running.
func (p *ProcessControl) ShuttingDown() bool {
	return p.Phase() != PhaseRunning
}

// BeginShutdown moves Running to ShuttingDown. Exactly one caller ever
// gets true.
func (p *ProcessControl) BeginShutdown() bool {
	p.shutdownRequested.Store(true)
	if !p.phase.CompareAndSwap(int32(PhaseRunning), int32(PhaseShuttingDown)) {
		return false
	}
	close(p.shuttingDown)
	return true
}

// Finish moves ShuttingDown to Finished. It returns false if the phase was
// not ShuttingDown.
func (p *ProcessControl) Finish() bool {
	if !p.phase.CompareAndSwap(int32(PhaseShuttingDown), int32(PhaseFinished)) {
		return false
	}
	close(p.finished)
	return true
}

// ShuttingDownCh is closed when the phase leaves Running.
func (p *ProcessControl) ShuttingDownCh() <-chan struct{} {
	return p.shuttingDown
}

// Done is closed when the phase reaches Finished.
func (p *ProcessControl) Done() <-chan struct{} {
	return p.finished
}

// ShutdownRequested reports whether any shutdown was ever requested.
func (p *ProcessControl) ShutdownRequested() bool {
	return p.shutdownRequested.Load()
}

// ShutdownFinished reports whether the phase is Finished.
func (p *ProcessControl) ShutdownFinished() bool {
	return p.Phase() == PhaseFinished
}

// MarkImmediate flags that any in-progress graceful drain must be cut short.
func (p *ProcessControl) MarkImmediate() {
	p.shutdownImmediate.Store(true)
}

// ShutdownImmediate reports whether the immediate path was requested.
func (p *ProcessControl) ShutdownImmediate() bool {
	return p.shutdownImmediate.Load()
}

// MarkInterrupt sets the interrupt-pending flag and returns its previous
// value.
func (p *ProcessControl) MarkInterrupt() (wasPending bool) {
	return p.interruptPending.Swap(true)
}

// AckInterrupt clears the interrupt-pending flag. The engine subsystem calls
// it once it has honoured the interrupt.
func (p *ProcessControl) AckInterrupt() {
	p.interruptPending.Store(false)
}

// InterruptPending reports whether an operator interrupt is pending.
func (p *ProcessControl) InterruptPending() bool {
	return p.interruptPending.Load()
}

// SetConsoleThread records the thread that owns the console.
func (p *ProcessControl) SetConsoleThread(tid ThreadID) {
	p.consoleThread.Store(uint64(tid))
}

// ConsoleThread returns the console-owning thread.
func (p *ProcessControl) ConsoleThread() ThreadID {
	return ThreadID(p.consoleThread.Load())
}

// SetMainThread records the main/coordinator thread.
func (p *ProcessControl) SetMainThread(tid ThreadID) {
	p.mainThread.Store(uint64(tid))
}

// MainThread returns the main/coordinator thread.
func (p *ProcessControl) MainThread() ThreadID {
	return ThreadID(p.mainThread.Load())
}

// WatchdogInterval returns the configured watchdog sampling interval.
func (p *ProcessControl) WatchdogInterval() time.Duration {
	return time.Duration(p.watchdogInterval.Load())
}

// SetWatchdogInterval changes the sampling interval; the watchdog picks it
// up after its current sleep.
func (p *ProcessControl) SetWatchdogInterval(d time.Duration) {
	if d > 0 {
		p.watchdogInterval.Store(int64(d))
	}
}
