package sim

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bft-labs/enginehost/pkg/engine"
	"github.com/bft-labs/enginehost/pkg/launcher"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
)

func newTestSubsystem(t *testing.T, n int) (*Subsystem, *lifecycle.ProcessControl) {
	t.Helper()
	state := lifecycle.NewProcessControl(time.Second)
	s := New(state, n, WithCycle(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for i := 0; i < n; i++ {
		go func(i int) { _ = s.Body(i)(ctx) }(i)
	}
	waitFor(t, func() bool {
		for _, st := range s.Snapshot() {
			if !st.ThreadRunning {
				return false
			}
		}
		return true
	})
	return s, state
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubsystem_StartedEngineMakesProgress(t *testing.T) {
	s, _ := newTestSubsystem(t, 2)

	if err := s.Start(0); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	waitFor(t, func() bool { return s.Sample(0).InstructionCount > 0 })

	if s.Sample(1).InstructionCount != 0 {
		t.Error("stopped engine should not advance")
	}
	if !s.AnyStarted() {
		t.Error("AnyStarted() should be true")
	}
}

func TestSubsystem_IdleConditionsFreezeCounter(t *testing.T) {
	tests := []struct {
		name  string
		apply func(s *Subsystem) error
	}{
		{"waiting", func(s *Subsystem) error { return s.SetWaiting(0, true) }},
		{"guest waiting", func(s *Subsystem) error { return s.SetNested(0, true, true) }},
		{"hung", func(s *Subsystem) error { return s.SetHung(0, true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSubsystem(t, 1)
			_ = s.Start(0)
			if err := tt.apply(s); err != nil {
				t.Fatal(err)
			}
			time.Sleep(5 * time.Millisecond)
			before := s.Sample(0).InstructionCount
			time.Sleep(10 * time.Millisecond)
			if after := s.Sample(0).InstructionCount; after != before {
				t.Errorf("counter moved %d -> %d", before, after)
			}
		})
	}
}

func TestSubsystem_MachineCheckTakesHungEngineOffline(t *testing.T) {
	s, _ := newTestSubsystem(t, 1)
	_ = s.Start(0)
	_ = s.SetHung(0, true)

	if err := s.DeliverFault(0, engine.FaultMachineCheck); err != nil {
		t.Fatalf("DeliverFault() = %v", err)
	}
	waitFor(t, func() bool { return !s.Sample(0).Online })

	st := s.Snapshot()[0]
	if st.Hung || st.Started || st.MachineChecks != 1 {
		t.Errorf("status = %+v", st)
	}
	if err := s.Start(0); !errors.Is(err, ErrOffline) {
		t.Errorf("Start() offline = %v, want ErrOffline", err)
	}
}

func TestSubsystem_SteppingAcknowledgesInterrupt(t *testing.T) {
	s, state := newTestSubsystem(t, 1)
	_ = s.Start(0)
	state.MarkInterrupt()

	s.ArmStepping()
	waitFor(t, func() bool { return !state.InterruptPending() })
	if s.Sample(0).Started {
		t.Error("engine should stop at the step")
	}
}

func TestSubsystem_HungEngineNeverAcknowledges(t *testing.T) {
	s, state := newTestSubsystem(t, 1)
	_ = s.Start(0)
	_ = s.SetHung(0, true)
	state.MarkInterrupt()

	s.ArmStepping()
	time.Sleep(20 * time.Millisecond)
	if !state.InterruptPending() {
		t.Error("hung engine should leave the interrupt pending")
	}
}

func TestSubsystem_StopAll(t *testing.T) {
	s, _ := newTestSubsystem(t, 3)
	for i := 0; i < 3; i++ {
		_ = s.Start(i)
	}
	_ = s.SetHung(2, true)

	s.StopAll()
	waitFor(t, func() bool {
		return !s.Sample(0).Started && !s.Sample(1).Started
	})
	if !s.AnyStarted() {
		t.Error("hung engine should still be started")
	}

	_ = s.SetHung(2, false)
	_ = s.Stop(2)
	waitFor(t, func() bool { return !s.AnyStarted() })
}

func TestSubsystem_BadIndex(t *testing.T) {
	s := New(lifecycle.NewProcessControl(time.Second), 1)

	if err := s.Start(5); !errors.Is(err, ErrNoSuchEngine) {
		t.Errorf("Start(5) = %v, want ErrNoSuchEngine", err)
	}
	if err := s.DeliverFault(0, engine.FaultMachineCheck); !errors.Is(err, ErrNotRunning) {
		t.Errorf("DeliverFault() without thread = %v, want ErrNotRunning", err)
	}
	if got := s.Sample(-1); got.Online {
		t.Errorf("Sample(-1) = %+v, want zero", got)
	}
}

func TestSubsystem_SetOnline(t *testing.T) {
	s := New(lifecycle.NewProcessControl(time.Second), 1)
	_ = s.Start(0)
	_ = s.SetOnline(0, false)

	smp := s.Sample(0)
	if smp.Online || smp.Started {
		t.Errorf("Sample() = %+v, want offline and stopped", smp)
	}
	if !smp.Idle() {
		t.Error("offline engine should be idle")
	}
}

func TestSubsystem_Release(t *testing.T) {
	s, _ := newTestSubsystem(t, 2)
	if err := s.Start(0); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := s.Start(1); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := s.SetHung(1, true); err != nil {
		t.Fatalf("SetHung() = %v", err)
	}

	s.Release()

	if s.Sample(0).Online || s.Sample(0).Started {
		t.Error("released engine should be offline and stopped")
	}
	if !s.Sample(1).Online {
		t.Error("hung engine should be left online")
	}
	if err := s.Start(0); !errors.Is(err, ErrOffline) {
		t.Errorf("Start() after Release = %v, want ErrOffline", err)
	}
}

func TestSubsystem_LaunchRecordsThreadIDs(t *testing.T) {
	state := lifecycle.NewProcessControl(time.Second)
	s := New(state, 2, WithCycle(time.Millisecond))
	l := launcher.New(state)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	for _, st := range s.Snapshot() {
		if st.ThreadID != 0 {
			t.Fatalf("engine %d has ThreadID %d before launch", st.Index, st.ThreadID)
		}
	}

	// 19 is the lowest priority, which any process may request.
	if err := s.Launch(ctx, l, 19); err != nil {
		t.Fatalf("Launch() = %v", err)
	}

	workers := make(map[string]lifecycle.ThreadID)
	for _, w := range l.Workers() {
		workers[w.Name] = w.ThreadID
	}
	for _, st := range s.Snapshot() {
		want := workers[fmt.Sprintf("engine-%d", st.Index)]
		if st.ThreadID == 0 || st.ThreadID != want {
			t.Errorf("engine %d ThreadID = %d, want %d", st.Index, st.ThreadID, want)
		}
	}
}
