package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	return m
}

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapterWithLogger(zerolog.New(&buf))

	l.Warn("engine stalled",
		Engine(3),
		Uint64("count", 42),
		Duration("interval", 2*time.Second),
		Bool("nested", true),
		Err(errors.New("boom")),
	)

	m := decodeLine(t, &buf)
	if m["message"] != "engine stalled" {
		t.Errorf("message = %v", m["message"])
	}
	if m["level"] != "warn" {
		t.Errorf("level = %v, want warn", m["level"])
	}
	if m["engine"] != float64(3) {
		t.Errorf("engine = %v, want 3", m["engine"])
	}
	if m["count"] != float64(42) {
		t.Errorf("count = %v, want 42", m["count"])
	}
	if m["nested"] != true {
		t.Errorf("nested = %v, want true", m["nested"])
	}
	if m["error"] != "boom" {
		t.Errorf("error = %v, want boom", m["error"])
	}
}

func TestZerologAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapterWithLogger(zerolog.New(&buf)).With(Component("watchdog"))

	l.Info("tick")

	m := decodeLine(t, &buf)
	if m["component"] != "watchdog" {
		t.Errorf("component = %v, want watchdog", m["component"])
	}
}

func TestZerologAdapter_DisabledLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapterWithLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	l.Debug("hidden", Engine(1))
	l.Info("hidden")

	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}
}

type stringer string

func (s stringer) String() string { return string(s) }

func TestTriggerField(t *testing.T) {
	f := Trigger(stringer("ExplicitQuit"))
	if f.Key != "trigger" || f.Value != "ExplicitQuit" {
		t.Errorf("Trigger() = %+v", f)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	z := NewZerologAdapter()
	if OrNoop(z) != Logger(z) {
		t.Error("OrNoop should return the given logger")
	}
}
