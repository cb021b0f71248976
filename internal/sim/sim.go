package sim

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bft-labs/enginehost/pkg/engine"
	"github.com/bft-labs/enginehost/pkg/launcher"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
)

// Errors returned by engine controls.
var (
	ErrNoSuchEngine = errors.New("no such engine")
	ErrNotRunning   = errors.New("engine thread not running")
	ErrOffline      = errors.New("engine is offline")
)

// Defaults for a Subsystem.
const (
	DefaultCycle           = 10 * time.Millisecond
	DefaultInstructionRate = 1000
)

type slot struct {
	online       atomic.Bool
	started      atomic.Bool
	waiting      atomic.Bool
	nested       atomic.Bool
	guestWaiting atomic.Bool
	hung         atomic.Bool
	stopReq      atomic.Bool
	running      atomic.Bool

	count  atomic.Uint64
	checks atomic.Uint64
	tid    atomic.Uint64

	faults chan engine.FaultKind
}

// Option configures a Subsystem.
type Option func(*Subsystem)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Subsystem) {
		s.logger = logger
	}
}

// WithCycle sets how often each engine advances its counter.
func WithCycle(d time.Duration) Option {
	return func(s *Subsystem) {
		if d > 0 {
			s.cycle = d
		}
	}
}

// Subsystem simulates a set of processing engines, one worker thread
// each. It implements engine.Subsystem.
type Subsystem struct {
	state  *lifecycle.ProcessControl
	logger log.Logger
	cycle  time.Duration
	slots  []*slot

	stepArmed atomic.Bool
}

var _ engine.Subsystem = (*Subsystem)(nil)

// New creates n engines, all online and stopped.
func New(state *lifecycle.ProcessControl, n int, opts ...Option) *Subsystem {
	s := &Subsystem{
		state: state,
		cycle: DefaultCycle,
		slots: make([]*slot, n),
	}
	for i := range s.slots {
		sl := &slot{faults: make(chan engine.FaultKind, 1)}
		sl.online.Store(true)
		s.slots[i] = sl
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNoop(s.logger).With(log.Component("engines"))
	return s
}

// Launch starts every engine thread through l at prio.
func (s *Subsystem) Launch(ctx context.Context, l *launcher.Launcher, prio int) error {
	for idx := range s.slots {
		h, err := l.Launch(ctx, launcher.Task{
			Name:     fmt.Sprintf("engine-%d", idx),
			Priority: prio,
			Body:     s.Body(idx),
		})
		if err != nil {
			return err
		}
		s.slots[idx].tid.Store(uint64(h.ThreadID))
	}
	return nil
}

// Body returns the run loop of engine idx.
func (s *Subsystem) Body(idx int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sl := s.slots[idx]
		sl.running.Store(true)
		defer sl.running.Store(false)

		ticker := time.NewTicker(s.cycle)
		defer ticker.Stop()
		for {
			select {
			case kind := <-sl.faults:
				s.handleFault(idx, sl, kind)
			case <-ticker.C:
				s.step(idx, sl)
			case <-s.state.Done():
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *Subsystem) step(idx int, sl *slot) {
	if sl.hung.Load() {
		return
	}
	if sl.stopReq.Swap(false) {
		sl.started.Store(false)
	}
	if s.stepArmed.Load() && sl.started.Load() {
		if s.stepArmed.CompareAndSwap(true, false) {
			sl.started.Store(false)
			s.state.AckInterrupt()
			s.logger.Info("stopped at instruction step", log.Engine(idx),
				log.Uint64("instructions", sl.count.Load()))
		}
		return
	}
	if !sl.online.Load() || !sl.started.Load() || sl.waiting.Load() {
		return
	}
	if sl.nested.Load() && sl.guestWaiting.Load() {
		return
	}
	sl.count.Add(DefaultInstructionRate)
}

// A machine check on a hung engine makes the guest vary it offline.
func (s *Subsystem) handleFault(idx int, sl *slot, kind engine.FaultKind) {
	sl.checks.Add(1)
	s.logger.Warn("fault received", log.Engine(idx), log.String("fault", kind.String()))
	if kind == engine.FaultMachineCheck && sl.hung.Load() {
		sl.hung.Store(false)
		sl.started.Store(false)
		sl.online.Store(false)
		s.logger.Warn("malfunctioning engine taken offline", log.Engine(idx))
	}
}

func (s *Subsystem) get(idx int) (*slot, error) {
	if idx < 0 || idx >= len(s.slots) {
		return nil, fmt.Errorf("engine %d: %w", idx, ErrNoSuchEngine)
	}
	return s.slots[idx], nil
}

// NumEngines implements engine.StateView.
func (s *Subsystem) NumEngines() int {
	return len(s.slots)
}

// Sample implements engine.StateView.
func (s *Subsystem) Sample(idx int) engine.Sample {
	sl, err := s.get(idx)
	if err != nil {
		return engine.Sample{Index: idx}
	}
	return engine.Sample{
		Index:            idx,
		Online:           sl.online.Load(),
		Started:          sl.started.Load(),
		Waiting:          sl.waiting.Load(),
		Nested:           sl.nested.Load(),
		GuestWaiting:     sl.guestWaiting.Load(),
		InstructionCount: sl.count.Load(),
	}
}

// DeliverFault implements engine.FaultDeliverer. It never blocks; a fault
// already pending for the engine absorbs the new one.
func (s *Subsystem) DeliverFault(idx int, kind engine.FaultKind) error {
	sl, err := s.get(idx)
	if err != nil {
		return err
	}
	if !sl.running.Load() {
		return fmt.Errorf("engine %d: %w", idx, ErrNotRunning)
	}
	select {
	case sl.faults <- kind:
	default:
	}
	return nil
}

// ArmStepping implements engine.Stepper. The next started engine to reach
// an instruction boundary stops and acknowledges the interrupt.
func (s *Subsystem) ArmStepping() {
	s.stepArmed.Store(true)
	s.logger.Info("instruction stepping armed")
}

// StopAll implements engine.Quiescer. Hung engines ignore the request.
func (s *Subsystem) StopAll() {
	for _, sl := range s.slots {
		sl.stopReq.Store(true)
	}
}

// Release detaches the engine configuration: every engine is stopped and
// varied offline. Hung engines are left as they are.
func (s *Subsystem) Release() {
	for _, sl := range s.slots {
		if sl.hung.Load() {
			continue
		}
		sl.stopReq.Store(true)
		sl.online.Store(false)
		sl.started.Store(false)
	}
	s.logger.Info("engine configuration released")
}

// AnyStarted implements engine.Quiescer.
func (s *Subsystem) AnyStarted() bool {
	for _, sl := range s.slots {
		if sl.started.Load() {
			return true
		}
	}
	return false
}

// Start starts engine idx.
func (s *Subsystem) Start(idx int) error {
	sl, err := s.get(idx)
	if err != nil {
		return err
	}
	if !sl.online.Load() {
		return fmt.Errorf("engine %d: %w", idx, ErrOffline)
	}
	sl.stopReq.Store(false)
	sl.started.Store(true)
	return nil
}

// Stop asks engine idx to stop at its next cycle.
func (s *Subsystem) Stop(idx int) error {
	sl, err := s.get(idx)
	if err != nil {
		return err
	}
	sl.stopReq.Store(true)
	return nil
}

// SetWaiting puts engine idx in or out of the wait state.
func (s *Subsystem) SetWaiting(idx int, on bool) error {
	sl, err := s.get(idx)
	if err != nil {
		return err
	}
	sl.waiting.Store(on)
	return nil
}

// SetNested marks engine idx as running a nested guest, optionally in its
// wait state.
func (s *Subsystem) SetNested(idx int, nested, guestWaiting bool) error {
	sl, err := s.get(idx)
	if err != nil {
		return err
	}
	sl.nested.Store(nested)
	sl.guestWaiting.Store(guestWaiting)
	return nil
}

// SetOnline varies engine idx online or offline. Going offline stops it.
func (s *Subsystem) SetOnline(idx int, on bool) error {
	sl, err := s.get(idx)
	if err != nil {
		return err
	}
	sl.online.Store(on)
	if !on {
		sl.started.Store(false)
	}
	return nil
}

// SetHung freezes or thaws engine idx. A hung engine looks started and
// busy but never advances its counter and ignores stop requests.
func (s *Subsystem) SetHung(idx int, on bool) error {
	sl, err := s.get(idx)
	if err != nil {
		return err
	}
	sl.hung.Store(on)
	return nil
}

// EngineStatus is a printable snapshot of one engine.
type EngineStatus struct {
	engine.Sample
	Hung          bool
	MachineChecks uint64
	ThreadRunning bool
	// ThreadID is the engine thread's OS id, zero until launched.
	ThreadID lifecycle.ThreadID
}

// Snapshot returns the status of every engine.
func (s *Subsystem) Snapshot() []EngineStatus {
	out := make([]EngineStatus, len(s.slots))
	for i, sl := range s.slots {
		out[i] = EngineStatus{
			Sample:        s.Sample(i),
			Hung:          sl.hung.Load(),
			MachineChecks: sl.checks.Load(),
			ThreadRunning: sl.running.Load(),
			ThreadID:      lifecycle.ThreadID(sl.tid.Load()),
		}
	}
	return out
}
