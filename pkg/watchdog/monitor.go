package watchdog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bft-labs/enginehost/pkg/engine"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
)

// StallHook gets the first chance to deal with a stalled engine. Returning
// true means the stall was handled and no fault is delivered.
type StallHook interface {
	OnStall(idx int) bool
}

// StallHookFunc adapts a function to StallHook.
type StallHookFunc func(idx int) bool

// OnStall calls f(idx).
func (f StallHookFunc) OnStall(idx int) bool {
	return f(idx)
}

// Stats counts what the monitor has done so far.
type Stats struct {
	Ticks       uint64
	Stalls      uint64
	Escalations uint64
	Handled     uint64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithHook installs a stall hook.
func WithHook(h StallHook) Option {
	return func(m *Monitor) {
		m.hook = h
	}
}

// WithIdlePredicate replaces the check that decides whether a sample is
// an expected idle condition. The default is engine.Sample.Idle.
func WithIdlePredicate(fn func(engine.Sample) bool) Option {
	return func(m *Monitor) {
		m.idle = fn
	}
}

// Monitor samples every engine slot once per interval and flags engines
// whose instruction counter has not moved.
type Monitor struct {
	state  *lifecycle.ProcessControl
	view   engine.StateView
	faults engine.FaultDeliverer
	hook   StallHook
	idle   func(engine.Sample) bool
	logger log.Logger

	// Last observed counter per slot. A missing entry means unknown, so
	// the first sample after a reset can never match.
	saved map[int]uint64

	ticks       atomic.Uint64
	stalls      atomic.Uint64
	escalations atomic.Uint64
	handled     atomic.Uint64
}

// New creates a monitor. Only the goroutine running Run (or calling Tick)
// may touch the counter registry.
func New(state *lifecycle.ProcessControl, view engine.StateView, faults engine.FaultDeliverer, opts ...Option) *Monitor {
	m := &Monitor{
		state:  state,
		view:   view,
		faults: faults,
		idle:   engine.Sample.Idle,
		saved:  make(map[int]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = log.OrNoop(m.logger).With(log.Component("watchdog"))
	return m
}

// Run ticks until shutdown begins or ctx is done. The interval is re-read
// from the control block after every sleep.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("watchdog started",
		log.Int("engines", m.view.NumEngines()),
		log.Duration("interval", m.state.WatchdogInterval()),
	)
	defer m.logger.Info("watchdog stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for !m.state.ShuttingDown() {
		m.Tick()

		timer.Reset(m.state.WatchdogInterval())
		select {
		case <-timer.C:
		case <-m.state.ShuttingDownCh():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// Tick samples every engine once and returns the slots that were
// escalated with a corrective fault.
func (m *Monitor) Tick() []int {
	m.ticks.Add(1)

	var escalated []int
	n := m.view.NumEngines()
	for idx := 0; idx < n; idx++ {
		s := m.view.Sample(idx)

		if m.idle(s) {
			delete(m.saved, idx)
			continue
		}

		if prev, ok := m.saved[idx]; !ok || prev != s.InstructionCount {
			m.saved[idx] = s.InstructionCount
			continue
		}

		m.stalls.Add(1)
		m.logger.Warn("engine stalled",
			log.Engine(idx),
			log.Uint64("instructions", s.InstructionCount),
			log.Duration("interval", m.state.WatchdogInterval()),
		)

		// A handled stall keeps its saved counter; if the engine is still
		// stuck next tick the hook is asked again.
		if m.hook != nil && m.hook.OnStall(idx) {
			m.handled.Add(1)
			continue
		}

		if err := m.faults.DeliverFault(idx, engine.FaultMachineCheck); err != nil {
			m.logger.Error("corrective fault delivery failed", log.Engine(idx), log.Err(err))
		} else {
			m.logger.Warn("corrective fault delivered",
				log.Engine(idx),
				log.String("fault", engine.FaultMachineCheck.String()),
			)
		}
		m.escalations.Add(1)
		escalated = append(escalated, idx)

		// One full interval to recover before the engine can be flagged again.
		delete(m.saved, idx)
	}
	return escalated
}

// Stats returns the monitor counters. Safe for concurrent use.
func (m *Monitor) Stats() Stats {
	return Stats{
		Ticks:       m.ticks.Load(),
		Stalls:      m.stalls.Load(),
		Escalations: m.escalations.Load(),
		Handled:     m.handled.Load(),
	}
}
