package lifecycle

import "fmt"

// Phase is the process-wide shutdown state. It only ever moves forward:
// Running -> ShuttingDown -> Finished.
type Phase int32

const (
	PhaseRunning Phase = iota
	PhaseShuttingDown
	PhaseFinished
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "Running"
	case PhaseShuttingDown:
		return "ShuttingDown"
	case PhaseFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Mode selects which termination path a shutdown takes.
type Mode int

const (
	// ModeGraceful flushes output, quiesces engines and then cleans up.
	ModeGraceful Mode = iota
	// ModeImmediate skips draining and goes straight to final cleanup.
	ModeImmediate
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	if m == ModeImmediate {
		return "immediate"
	}
	return "graceful"
}

// TriggerKind tags the origin of a shutdown request.
type TriggerKind int

const (
	TriggerOperatorInterrupt TriggerKind = iota + 1
	TriggerTerminationRequest
	TriggerPlatformClose
	TriggerFatalEngineFault
	TriggerExplicitQuit
	TriggerEndOfInput
	TriggerStartupFailure
	TriggerProcessExit
)

var triggerNames = map[TriggerKind]string{
	TriggerOperatorInterrupt:  "OperatorInterrupt",
	TriggerTerminationRequest: "TerminationRequest",
	TriggerPlatformClose:      "PlatformCloseEvent",
	TriggerFatalEngineFault:   "FatalEngineFault",
	TriggerExplicitQuit:       "ExplicitQuit",
	TriggerEndOfInput:         "EndOfInput",
	TriggerStartupFailure:     "StartupFailure",
	TriggerProcessExit:        "ProcessExit",
}

// String returns the trigger kind name.
func (k TriggerKind) String() string {
	if name, ok := triggerNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TriggerKind(%d)", int(k))
}

// Trigger describes why a shutdown was requested. Engine is only meaningful
// for TriggerFatalEngineFault.
type Trigger struct {
	Kind   TriggerKind
	Engine int
	Reason string
}

// OperatorInterrupt returns an operator interrupt trigger.
func OperatorInterrupt() Trigger { return Trigger{Kind: TriggerOperatorInterrupt} }

// TerminationRequest returns a termination request trigger.
func TerminationRequest() Trigger { return Trigger{Kind: TriggerTerminationRequest} }

// PlatformClose returns a platform close/session-end trigger.
func PlatformClose(reason string) Trigger {
	return Trigger{Kind: TriggerPlatformClose, Reason: reason}
}

// FatalEngineFault returns a fatal fault trigger for engine idx.
func FatalEngineFault(idx int, reason string) Trigger {
	return Trigger{Kind: TriggerFatalEngineFault, Engine: idx, Reason: reason}
}

// ExplicitQuit returns a quit-command trigger.
func ExplicitQuit() Trigger { return Trigger{Kind: TriggerExplicitQuit} }

// String renders the trigger for logs, e.g. "FatalEngineFault(2)".
func (t Trigger) String() string {
	if t.Kind == TriggerFatalEngineFault {
		return fmt.Sprintf("%s(%d)", t.Kind, t.Engine)
	}
	return t.Kind.String()
}

// Mode returns the termination path a trigger takes when it wins the race
// out of Running. Platform close events only get a short grace window from
// the host environment, so they never attempt graceful draining.
func (t Trigger) Mode() Mode {
	switch t.Kind {
	case TriggerPlatformClose, TriggerFatalEngineFault, TriggerStartupFailure,
		TriggerOperatorInterrupt, TriggerProcessExit:
		return ModeImmediate
	default:
		return ModeGraceful
	}
}

// Process exit statuses.
const (
	ExitOK          = 0
	ExitInterrupted = 1
	ExitFatal       = 255
)

// EventEmitter is called when the phase changes.
type EventEmitter interface {
	OnStateChange(previous, current Phase, reason string)
}
