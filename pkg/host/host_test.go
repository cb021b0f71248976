package host

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/enginehost/internal/runner"
	"github.com/bft-labs/enginehost/internal/sim"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
	"github.com/bft-labs/enginehost/pkg/logpump"
	"github.com/bft-labs/enginehost/pkg/state"
	"github.com/bft-labs/enginehost/pkg/watchdog"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// trackingPlugin records Initialize and Shutdown calls in a shared slice.
type trackingPlugin struct {
	BasePlugin
	calls   *[]string
	mu      *sync.Mutex
	initErr error
	cfg     PluginConfig
}

func newTrackingPlugin(name string, calls *[]string, mu *sync.Mutex) *trackingPlugin {
	return &trackingPlugin{BasePlugin: NewBasePlugin(name), calls: calls, mu: mu}
}

func (p *trackingPlugin) Initialize(ctx context.Context, cfg PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	*p.calls = append(*p.calls, "init:"+p.Name())
	return p.initErr
}

func (p *trackingPlugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.calls = append(*p.calls, "shutdown:"+p.Name())
	return nil
}

func testConfig() Config {
	return Config{
		Engines:          2,
		WatchdogInterval: time.Hour,
		QuiesceTimeout:   time.Second,
		Daemon:           true,
	}
}

func newTestHost(t *testing.T, cfg Config, opts ...Option) *Host {
	t.Helper()
	opts = append([]Option{
		WithEngineCycle(time.Millisecond),
		WithFlushDelay(0),
		WithLevelSetter(func(string) error { return nil }),
	}, opts...)
	h, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

// runHost runs h in the background and returns a channel with its exit
// code.
func runHost(ctx context.Context, h *Host) <-chan int {
	done := make(chan int, 1)
	go func() { done <- h.Run(ctx) }()
	return done
}

func waitExit(t *testing.T, done <-chan int) int {
	t.Helper()
	select {
	case code := <-done:
		return code
	case <-time.After(10 * time.Second):
		t.Fatal("host did not exit")
		return -1
	}
}

func triggerKind(t *testing.T, h *Host) lifecycle.TriggerKind {
	t.Helper()
	tr, ok := h.Coordinator().Trigger()
	if !ok {
		t.Fatal("no shutdown trigger recorded")
	}
	return tr.Kind
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"negative engines", Config{Engines: -1}, true},
		{"negative interval", Config{WatchdogInterval: -time.Second}, true},
		{"unknown policy", Config{StallPolicy: "reboot"}, true},
		{"fatal policy", Config{StallPolicy: watchdog.PolicyFatal}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.SetDefaults()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if cfg.Engines != DefaultEngines {
		t.Errorf("Engines = %d, want %d", cfg.Engines, DefaultEngines)
	}
	if cfg.WatchdogInterval != DefaultWatchdogInterval {
		t.Errorf("WatchdogInterval = %s, want %s", cfg.WatchdogInterval, DefaultWatchdogInterval)
	}
	if cfg.StallPolicy != watchdog.PolicyEscalate {
		t.Errorf("StallPolicy = %q, want escalate", cfg.StallPolicy)
	}
}

func TestHost_EndOfInputShutsDownGracefully(t *testing.T) {
	out := &syncBuffer{}
	h := newTestHost(t, testConfig(), WithConsole(strings.NewReader("status\n"), out))

	code := waitExit(t, runHost(context.Background(), h))

	if code != lifecycle.ExitOK {
		t.Errorf("exit code = %d, want %d", code, lifecycle.ExitOK)
	}
	if got := triggerKind(t, h); got != lifecycle.TriggerEndOfInput {
		t.Errorf("trigger = %s, want EndOfInput", got)
	}
	if res := h.Coordinator().Result(); res == nil || res.Mode != lifecycle.ModeGraceful {
		t.Errorf("Result() = %+v, want graceful", res)
	}
	if !strings.Contains(out.String(), "phase: Running") {
		t.Errorf("status output missing phase: %q", out.String())
	}
}

func TestHost_QuitCommand(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()
	h := newTestHost(t, testConfig(), WithConsole(in, io.Discard))

	done := runHost(context.Background(), h)
	if _, err := io.WriteString(w, "start\nquit\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	if code := waitExit(t, done); code != lifecycle.ExitOK {
		t.Errorf("exit code = %d, want %d", code, lifecycle.ExitOK)
	}
	if got := triggerKind(t, h); got != lifecycle.TriggerExplicitQuit {
		t.Errorf("trigger = %s, want ExplicitQuit", got)
	}
	if h.Engines().AnyStarted() {
		t.Error("graceful quit should leave no engine started")
	}
}

func TestHost_ContextCancelShutsDownImmediately(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()
	cfg := testConfig()
	cfg.Daemon = false
	h := newTestHost(t, cfg, WithConsole(in, io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := runHost(ctx, h)
	time.Sleep(50 * time.Millisecond)
	cancel()

	waitExit(t, done)
	if got := triggerKind(t, h); got != lifecycle.TriggerProcessExit {
		t.Errorf("trigger = %s, want ProcessExit", got)
	}
	if !h.State().ShutdownFinished() {
		t.Error("shutdown should be finished")
	}
}

func TestHost_FatalStallPolicy(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()
	cfg := testConfig()
	cfg.WatchdogInterval = 20 * time.Millisecond
	cfg.StallPolicy = watchdog.PolicyFatal
	h := newTestHost(t, cfg, WithConsole(in, io.Discard))

	done := runHost(context.Background(), h)
	if _, err := io.WriteString(w, "start 0\nhang 0\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	if code := waitExit(t, done); code != lifecycle.ExitFatal {
		t.Errorf("exit code = %d, want %d", code, lifecycle.ExitFatal)
	}
	tr, _ := h.Coordinator().Trigger()
	if tr.Kind != lifecycle.TriggerFatalEngineFault || tr.Engine != 0 {
		t.Errorf("trigger = %s, want FatalEngineFault(0)", tr)
	}
}

func TestHost_PluginLifecycle(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	a := newTrackingPlugin("a", &calls, &mu)
	b := newTrackingPlugin("b", &calls, &mu)

	cfg := testConfig()
	cfg.ConfigPath = "/etc/enginehost.toml"
	h := newTestHost(t, cfg,
		WithConsole(strings.NewReader(""), io.Discard),
		WithPlugin(a),
		WithPlugin(b),
	)
	waitExit(t, runHost(context.Background(), h))

	mu.Lock()
	defer mu.Unlock()
	want := []string{"init:a", "init:b", "shutdown:b", "shutdown:a"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if a.cfg.ConfigPath != cfg.ConfigPath {
		t.Errorf("ConfigPath = %q, want %q", a.cfg.ConfigPath, cfg.ConfigPath)
	}
	if a.cfg.State != h.State() || a.cfg.Launcher == nil || a.cfg.Submit == nil {
		t.Error("plugin config not populated")
	}
}

func TestHost_PluginInitFailureAborts(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	a := newTrackingPlugin("a", &calls, &mu)
	b := newTrackingPlugin("b", &calls, &mu)
	b.initErr = errors.New("boom")
	c := newTrackingPlugin("c", &calls, &mu)

	in, w := io.Pipe()
	defer w.Close()
	h := newTestHost(t, testConfig(),
		WithConsole(in, io.Discard),
		WithPlugin(a), WithPlugin(b), WithPlugin(c),
	)

	if code := waitExit(t, runHost(context.Background(), h)); code != lifecycle.ExitFatal {
		t.Errorf("exit code = %d, want %d", code, lifecycle.ExitFatal)
	}
	if got := triggerKind(t, h); got != lifecycle.TriggerStartupFailure {
		t.Errorf("trigger = %s, want StartupFailure", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"init:a", "init:b", "shutdown:a"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestHost_SubmitRunsOnDispatcher(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	p := newTrackingPlugin("p", &calls, &mu)
	in, w := io.Pipe()
	defer w.Close()
	h := newTestHost(t, testConfig(), WithConsole(in, io.Discard), WithPlugin(p))

	done := runHost(context.Background(), h)

	var cfg PluginConfig
	deadline := time.Now().Add(5 * time.Second)
	for cfg.Submit == nil {
		if time.Now().After(deadline) {
			t.Fatal("plugin not initialized")
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		cfg = p.cfg
		mu.Unlock()
	}

	out := &syncBuffer{}
	result := make(chan error, 1)
	cfg.Submit("stop 1", out, func(err error) { result <- err })
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("command error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("submitted command never ran")
	}
	if !strings.Contains(out.String(), "engine 1 stopping") {
		t.Errorf("reply = %q", out.String())
	}

	cfg.Submit("quit", io.Discard, nil)
	waitExit(t, done)
}

func TestHost_RunStatusFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.StateDir = dir
	h := newTestHost(t, cfg, WithConsole(strings.NewReader(""), io.Discard))

	waitExit(t, runHost(context.Background(), h))

	st, err := state.NewFileRepository(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Phase != lifecycle.PhaseFinished.String() {
		t.Errorf("Phase = %q, want Finished", st.Phase)
	}
	if st.ExitCode == nil || *st.ExitCode != lifecycle.ExitOK {
		t.Errorf("ExitCode = %v, want 0", st.ExitCode)
	}
	if st.Trigger != "EndOfInput" {
		t.Errorf("Trigger = %q, want EndOfInput", st.Trigger)
	}
}

func TestHost_LogMirror(t *testing.T) {
	mirror := filepath.Join(t.TempDir(), "host.log")
	pump := logpump.New(0)
	cfg := testConfig()
	cfg.LogMirror = mirror
	h := newTestHost(t, cfg,
		WithConsole(strings.NewReader(""), io.Discard),
		WithLogger(log.NewZerologAdapterWithWriter(pump)),
		WithLogPump(pump),
	)

	waitExit(t, runHost(context.Background(), h))

	select {
	case <-pump.Done():
	default:
		t.Error("pump should be closed after shutdown")
	}
	data, err := os.ReadFile(mirror)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "host running") {
		t.Errorf("mirror missing log lines: %q", data)
	}
}

func TestHost_RCScriptInteractive(t *testing.T) {
	script := filepath.Join(t.TempDir(), "rc")
	if err := os.WriteFile(script, []byte("# boot\nstart 1\npause 0\nquit\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	in, w := io.Pipe()
	defer w.Close()
	cfg := testConfig()
	cfg.Daemon = false
	cfg.RCFile = script
	h := newTestHost(t, cfg, WithConsole(in, io.Discard))

	waitExit(t, runHost(context.Background(), h))
	if got := triggerKind(t, h); got != lifecycle.TriggerExplicitQuit {
		t.Errorf("trigger = %s, want ExplicitQuit", got)
	}
}

func TestHost_Commands(t *testing.T) {
	h := newTestHost(t, testConfig())
	ctx := context.Background()

	tests := []struct {
		line    string
		wantErr error
		check   func(t *testing.T)
	}{
		{line: "start 0", check: func(t *testing.T) {
			if !h.Engines().Sample(0).Started {
				t.Error("engine 0 should be started")
			}
		}},
		{line: "wait 0 on", check: func(t *testing.T) {
			if !h.Engines().Sample(0).Waiting {
				t.Error("engine 0 should be waiting")
			}
		}},
		{line: "online 1 off", check: func(t *testing.T) {
			if h.Engines().Sample(1).Online {
				t.Error("engine 1 should be offline")
			}
		}},
		{line: "start 1", wantErr: sim.ErrOffline},
		{line: "hang 0", check: func(t *testing.T) {
			if !h.Engines().Snapshot()[0].Hung {
				t.Error("engine 0 should be hung")
			}
		}},
		{line: "hang 0 off", check: func(t *testing.T) {
			if h.Engines().Snapshot()[0].Hung {
				t.Error("engine 0 should not be hung")
			}
		}},
		{line: "watchdog 5s", check: func(t *testing.T) {
			if got := h.State().WatchdogInterval(); got != 5*time.Second {
				t.Errorf("WatchdogInterval() = %s, want 5s", got)
			}
		}},
		{line: "watchdog soon", wantErr: runner.ErrUsage},
		{line: "wait 0", wantErr: runner.ErrUsage},
		{line: "wait x on", wantErr: runner.ErrUsage},
		{line: "online 0 maybe", wantErr: runner.ErrUsage},
		{line: "quit now", wantErr: runner.ErrUsage},
		{line: "loglevel", wantErr: runner.ErrUsage},
		{line: "loglevel debug"},
		{line: "status"},
		{line: "frobnicate", wantErr: runner.ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := h.Exec(ctx, tt.line, io.Discard)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Exec(%q) error = %v", tt.line, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Exec(%q) error = %v, want %v", tt.line, err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t)
			}
		})
	}
}

func TestHost_QuitForceIsImmediate(t *testing.T) {
	h := newTestHost(t, testConfig())
	var out bytes.Buffer
	if err := h.Exec(context.Background(), "quit force", &out); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := h.Coordinator().Wait(contextWithTimeout(t, 5*time.Second)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res := h.Coordinator().Result(); res.Mode != lifecycle.ModeImmediate {
		t.Errorf("Mode = %s, want immediate", res.Mode)
	}
	if !strings.Contains(out.String(), "immediate shutdown requested") {
		t.Errorf("reply = %q", out.String())
	}
}

func TestHost_StatusOutput(t *testing.T) {
	h := newTestHost(t, testConfig())
	if err := h.Engines().Start(1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	var out bytes.Buffer
	if err := h.Exec(context.Background(), "status", &out); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	for _, want := range []string{
		"phase: Running",
		"watchdog: interval=1h0m0s",
		"engine 0: online,stopped",
		"engine 1: online,started",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "tid=0\n") {
		t.Errorf("engine without a thread id:\n%s", out.String())
	}
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
