package signals

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bft-labs/enginehost/pkg/engine"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
)

// Kind classifies a raw OS notification.
type Kind int

const (
	// Interrupt is the operator interrupt key.
	Interrupt Kind = iota + 1
	// Terminate is a process termination request.
	Terminate
	// PlatformClose is a console close, logoff or session end that only
	// leaves a short grace window.
	PlatformClose
	// PlatformQueryEnd asks whether the session may end.
	PlatformQueryEnd
	// PlatformEndAborted reports that a pending session end was cancelled.
	PlatformEndAborted
)

var kindNames = map[Kind]string{
	Interrupt:          "Interrupt",
	Terminate:          "Terminate",
	PlatformClose:      "PlatformClose",
	PlatformQueryEnd:   "PlatformQueryEnd",
	PlatformEndAborted: "PlatformEndAborted",
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Notification is one OS notification stamped with the thread it was
// delivered on.
type Notification struct {
	Kind   Kind
	Origin lifecycle.ThreadID
	Reason string
}

// Action is what the router decided to do with a notification.
type Action int

const (
	ActionIgnored Action = iota
	ActionArmStepping
	ActionEscalate
	ActionGraceful
	ActionImmediate
	ActionLogOnly
)

var actionNames = [...]string{
	ActionIgnored:     "ignored",
	ActionArmStepping: "arm_stepping",
	ActionEscalate:    "escalate",
	ActionGraceful:    "graceful",
	ActionImmediate:   "immediate",
	ActionLogOnly:     "log_only",
}

// String returns the action name.
func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Requester is the part of the shutdown coordinator the router drives.
type Requester interface {
	Request(ctx context.Context, t lifecycle.Trigger) error
	Escalate(ctx context.Context, t lifecycle.Trigger) error
}

type queued struct {
	action Action
	n      Notification
}

// DefaultQueueSize is the router's action backlog.
const DefaultQueueSize = 16

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithEscalationHook sets a function run on the worker just before an
// escalated shutdown, e.g. to release the interrupt intercept.
func WithEscalationHook(fn func()) Option {
	return func(r *Router) {
		r.onEscalate = fn
	}
}

// Router classifies OS notifications into coordinator actions.
//
// Deliver is the restricted half: it only touches atomic flags and makes
// non-blocking sends, so it is safe from any delivery context. Run is the
// worker half that performs the queued actions.
type Router struct {
	state      *lifecycle.ProcessControl
	coord      Requester
	stepper    engine.Stepper
	logger     log.Logger
	onEscalate func()

	queue   chan queued
	dropped atomic.Uint64
}

// NewRouter creates a router. stepper may be nil.
func NewRouter(state *lifecycle.ProcessControl, coord Requester, stepper engine.Stepper, opts ...Option) *Router {
	r := &Router{
		state:   state,
		coord:   coord,
		stepper: stepper,
		queue:   make(chan queued, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.OrNoop(r.logger).With(log.Component("signals"))
	return r
}

// Deliver classifies n and queues the resulting action.
func (r *Router) Deliver(n Notification) Action {
	var a Action
	switch n.Kind {
	case Interrupt:
		if n.Origin != r.state.ConsoleThread() {
			return ActionIgnored
		}
		if r.state.MarkInterrupt() {
			r.state.MarkImmediate()
			a = ActionEscalate
		} else {
			a = ActionArmStepping
		}
	case Terminate:
		if n.Origin != r.state.MainThread() {
			return ActionIgnored
		}
		a = ActionGraceful
	case PlatformClose:
		r.state.MarkImmediate()
		a = ActionImmediate
	case PlatformQueryEnd, PlatformEndAborted:
		a = ActionLogOnly
	default:
		return ActionIgnored
	}

	select {
	case r.queue <- queued{action: a, n: n}:
	default:
		r.dropped.Add(1)
	}
	return a
}

// Dropped returns how many actions were lost to a full queue.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// Run performs queued actions until shutdown finishes or ctx is done.
// Shutdown requests run on their own goroutine so that a later escalation
// is still processed while a graceful shutdown is stuck.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case q := <-r.queue:
			r.perform(ctx, q)
		case <-r.state.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Router) perform(ctx context.Context, q queued) {
	switch q.action {
	case ActionArmStepping:
		r.logger.Warn("operator interrupt: stepping armed, interrupt again to force shutdown")
		if r.stepper != nil {
			r.stepper.ArmStepping()
		}
	case ActionEscalate:
		if r.onEscalate != nil {
			r.onEscalate()
		}
		go r.request(ctx, lifecycle.OperatorInterrupt(), true)
	case ActionGraceful:
		r.logger.Info("termination requested")
		go r.request(ctx, lifecycle.TerminationRequest(), false)
	case ActionImmediate:
		r.logger.Warn("platform close event", log.String("reason", q.n.Reason))
		go r.request(ctx, lifecycle.PlatformClose(q.n.Reason), false)
	case ActionLogOnly:
		if q.n.Kind == PlatformQueryEnd {
			r.logger.Info("session end queried, allowing", log.String("reason", q.n.Reason))
		} else {
			r.logger.Info("session end aborted", log.String("reason", q.n.Reason))
		}
	}
}

func (r *Router) request(ctx context.Context, t lifecycle.Trigger, escalate bool) {
	var err error
	if escalate {
		err = r.coord.Escalate(ctx, t)
	} else {
		err = r.coord.Request(ctx, t)
	}
	if err != nil && !errors.Is(err, lifecycle.ErrAlreadyShuttingDown) && !errors.Is(err, lifecycle.ErrFinished) {
		r.logger.Error("shutdown request failed", log.Trigger(t), log.Err(err))
	}
}
