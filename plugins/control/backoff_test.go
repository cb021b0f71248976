package control

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_Doubles(t *testing.T) {
	b := newBackoff(100*time.Millisecond, time.Second)

	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, w := range want {
		w *= time.Millisecond
		if b.Current() != w {
			t.Fatalf("step %d: Current() = %s, want %s", i, b.Current(), w)
		}
		d := b.next()
		lo, hi := time.Duration(float64(w)*0.8), time.Duration(float64(w)*1.2)
		if d < lo || d > hi {
			t.Errorf("step %d: next() = %s, want within [%s, %s]", i, d, lo, hi)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(10*time.Millisecond, time.Second)
	b.next()
	b.next()
	b.Reset()
	if b.Current() != 10*time.Millisecond {
		t.Errorf("Current() = %s, want 10ms", b.Current())
	}
}

func TestBackoff_SleepCancelled(t *testing.T) {
	b := newBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if b.Sleep(ctx) {
		t.Error("Sleep() = true, want false on cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly")
	}
}

func TestBackoff_SleepElapses(t *testing.T) {
	b := newBackoff(time.Millisecond, time.Millisecond)
	if !b.Sleep(context.Background()) {
		t.Error("Sleep() = false, want true")
	}
}
