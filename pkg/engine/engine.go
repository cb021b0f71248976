// Package engine defines the narrow contract between the host control plane
// and the external engine subsystem that runs the processing engines.
//
// The control plane never mutates engine state directly. It reads
// point-in-time samples through StateView and asks the subsystem to act
// through FaultDeliverer, Stepper and Quiescer.
package engine

import "fmt"

// Sample is a point-in-time view of one engine slot. It is never cached
// beyond a single watchdog tick.
type Sample struct {
	Index   int
	Online  bool
	Started bool
	Waiting bool

	// Nested reports that the engine is currently running a guest under
	// nested virtualization; GuestWaiting is the guest's wait state.
	Nested       bool
	GuestWaiting bool

	InstructionCount uint64
}

// Idle reports whether the sample describes an expected idle condition:
// offline, not started, or in a wait state (including the guest wait state
// while nested virtualization is active).
func (s Sample) Idle() bool {
	return !s.Online || !s.Started || s.Waiting || (s.Nested && s.GuestWaiting)
}

// StateView is the read-only query surface over the engine slots.
type StateView interface {
	// NumEngines returns the number of configured engine slots.
	NumEngines() int

	// Sample returns the current state of slot idx.
	Sample(idx int) Sample
}

// FaultKind identifies a corrective fault delivered to an engine.
type FaultKind int

const (
	// FaultMachineCheck asks the engine to raise a machine check so the
	// guest can take the malfunctioning engine offline.
	FaultMachineCheck FaultKind = iota + 1
)

// String returns a human-readable representation of the fault kind.
func (k FaultKind) String() string {
	switch k {
	case FaultMachineCheck:
		return "MachineCheck"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// FaultDeliverer delivers an asynchronous fault notification to the thread
// running a specific engine.
type FaultDeliverer interface {
	DeliverFault(idx int, kind FaultKind) error
}

// Stepper arms single-step and tracing instrumentation on every engine.
type Stepper interface {
	ArmStepping()
}

// Quiescer lets the graceful shutdown path stop engines and wait for them.
type Quiescer interface {
	StopAll()
	AnyStarted() bool
}

// Subsystem is everything the host needs from a full engine implementation.
type Subsystem interface {
	StateView
	FaultDeliverer
	Stepper
	Quiescer
}
