package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/bft-labs/enginehost/internal/runner"
	"github.com/bft-labs/enginehost/internal/sim"
	"github.com/bft-labs/enginehost/pkg/launcher"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
	"github.com/bft-labs/enginehost/pkg/logpump"
	"github.com/bft-labs/enginehost/pkg/notify"
	"github.com/bft-labs/enginehost/pkg/signals"
	"github.com/bft-labs/enginehost/pkg/state"
	"github.com/bft-labs/enginehost/pkg/watchdog"
)

// enginePoll is how often end of input checks whether the engines have
// stopped.
const enginePoll = 100 * time.Millisecond

// Host wires the control plane together: process control state, the
// shutdown coordinator, worker launcher, watchdog, signal routing, the
// command console and the engines it supervises.
type Host struct {
	config Config
	opts   options
	logger log.Logger

	pc       *lifecycle.ProcessControl
	coord    *lifecycle.Coordinator
	launcher *launcher.Launcher
	engines  *sim.Subsystem
	monitor  *watchdog.Monitor
	router   *signals.Router
	source   *signals.Source
	pair     *notify.Pair
	runner   *runner.Runner
	recorder *state.Recorder

	// Outlives the caller's context so shutdown requests are never cut
	// short by it. Set by Run.
	reqCtx context.Context
}

// New creates a host with the given configuration. Nothing runs until Run.
func New(cfg Config, opts ...Option) (*Host, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkModuleVersions(moduleVersions()); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrNoop(o.logger)

	h := &Host{
		config: cfg,
		opts:   o,
		logger: logger.With(log.Component("host")),
		reqCtx: context.Background(),
	}

	h.pc = lifecycle.NewProcessControl(cfg.WatchdogInterval)

	simOpts := []sim.Option{sim.WithLogger(logger)}
	if o.engineCycle > 0 {
		simOpts = append(simOpts, sim.WithCycle(o.engineCycle))
	}
	h.engines = sim.New(h.pc, cfg.Engines, simOpts...)

	var emitters multiEmitter
	if cfg.StateDir != "" {
		h.recorder = state.NewRecorder(state.NewFileRepository(cfg.StateDir), logger, h.exitCode)
		emitters = append(emitters, h.recorder)
	}
	if o.eventHandler != nil {
		emitters = append(emitters, o.eventHandler)
	}

	h.coord = lifecycle.NewCoordinator(h.pc, lifecycle.Config{
		QuiesceTimeout: cfg.QuiesceTimeout,
		FlushDelay:     o.flushDelay,
	}, logger, h.engines, emitters)

	launchOpts := []launcher.Option{
		launcher.WithLogger(logger),
		launcher.WithCriticalFailureHandler(h.criticalFailure),
	}
	if !cfg.Privileged {
		launchOpts = append(launchOpts, launcher.WithPriorityFloor(0))
	}
	h.launcher = launcher.New(h.pc, launchOpts...)

	monOpts := []watchdog.Option{watchdog.WithLogger(logger)}
	if hook := watchdog.HookFor(cfg.StallPolicy, logger, h.requestAsync); hook != nil {
		monOpts = append(monOpts, watchdog.WithHook(hook))
	}
	h.monitor = watchdog.New(h.pc, h.engines, h.engines, monOpts...)

	h.router = signals.NewRouter(h.pc, h.coord, h.engines,
		signals.WithLogger(logger),
		signals.WithEscalationHook(func() { h.source.Release() }),
	)
	h.source = signals.NewSource(h.router, h.pc, logger)

	h.pair = notify.NewPair()
	h.runner = runner.New(h.pair, logger)
	h.registerCommands()

	return h, nil
}

// Run starts every worker and blocks until shutdown has finished. It
// returns the process exit status. Cancelling ctx requests an immediate
// shutdown.
func (h *Host) Run(ctx context.Context) int {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h.reqCtx = context.WithoutCancel(ctx)
	tid := launcher.CurrentThreadID()
	h.pc.SetMainThread(tid)
	h.pc.SetConsoleThread(tid)

	if h.recorder != nil {
		if err := h.recorder.Start(ctx); err != nil {
			h.logger.Warn("run status unavailable", log.Err(err))
		}
	}

	if err := h.start(ctx); err != nil {
		h.coord.Abort(h.reqCtx, err)
		return h.coord.ExitCode()
	}
	h.logger.Info("host running",
		log.Int("engines", h.engines.NumEngines()),
		log.Bool("daemon", h.config.Daemon),
		log.Thread(uint64(tid)),
	)

	select {
	case <-h.coord.Done():
	case <-ctx.Done():
		err := h.coord.Shutdown(h.reqCtx, lifecycle.ModeImmediate, lifecycle.Trigger{
			Kind:   lifecycle.TriggerProcessExit,
			Reason: "context canceled",
		})
		if errors.Is(err, lifecycle.ErrAlreadyShuttingDown) {
			h.awaitDone(2 * h.config.QuiesceTimeout)
		}
	}
	return h.coord.ExitCode()
}

func (h *Host) start(ctx context.Context) error {
	if err := h.startLogging(); err != nil {
		return err
	}

	if err := h.coord.SetConfigReleaser(func(ctx context.Context) error {
		h.engines.Release()
		return nil
	}); err != nil {
		return err
	}
	if err := h.coord.Register("workers", func(ctx context.Context) error {
		jctx, cancel := context.WithTimeout(ctx, h.config.QuiesceTimeout)
		defer cancel()
		return h.launcher.JoinAll(jctx)
	}); err != nil {
		return err
	}
	if err := h.coord.Register("commands", func(ctx context.Context) error {
		h.pair.Close()
		return nil
	}); err != nil {
		return err
	}

	if err := h.source.Start(); err != nil {
		return fmt.Errorf("install signal handlers: %w", err)
	}
	for _, t := range []launcher.Task{
		{Name: "msgpump", Priority: h.config.HostPriority, Critical: true, Body: h.source.Run},
		{Name: "router", Priority: h.config.HostPriority, Critical: true, Body: h.router.Run},
	} {
		if _, err := h.launcher.Launch(h.reqCtx, t); err != nil {
			return err
		}
	}

	if err := h.engines.Launch(ctx, h.launcher, h.config.EnginePriority); err != nil {
		return err
	}

	if _, err := h.launcher.Launch(ctx, launcher.Task{
		Name:     "watchdog",
		Priority: h.config.WatchdogPriority,
		Policy:   launcher.Joinable,
		Critical: true,
		Body:     h.monitor.Run,
	}); err != nil {
		return err
	}

	if _, err := h.launcher.Launch(ctx, launcher.Task{
		Name:     "dispatcher",
		Priority: h.config.HostPriority,
		Policy:   launcher.Joinable,
		Body:     h.runner.Serve,
	}); err != nil {
		return err
	}

	if err := h.initPlugins(ctx); err != nil {
		return err
	}

	return h.startConsole(ctx)
}

// startLogging runs the log pump worker and attaches the mirror file. The
// mirror is registered first so it closes after the pump has drained.
func (h *Host) startLogging() error {
	pump := h.opts.pump
	if pump == nil {
		return nil
	}

	if h.config.LogMirror != "" {
		f, err := os.OpenFile(h.config.LogMirror, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log mirror: %w", err)
		}
		unsubscribe := pump.Subscribe(logpump.MirrorTo(f))
		h.coord.AddFlusher("log_mirror", func() { _ = f.Sync() })
		if err := h.coord.Register("log_mirror", func(ctx context.Context) error {
			unsubscribe()
			return f.Close()
		}); err != nil {
			f.Close()
			return err
		}
	}

	if _, err := h.launcher.Launch(h.reqCtx, launcher.Task{
		Name:     "logpump",
		Priority: h.config.ServicePriority,
		Body:     pump.Run,
	}); err != nil {
		return err
	}
	return h.coord.Register("logpump", func(ctx context.Context) error {
		_ = pump.Close()
		select {
		case <-pump.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (h *Host) initPlugins(ctx context.Context) error {
	cfg := PluginConfig{
		ConfigPath:      h.config.ConfigPath,
		Logger:          log.OrNoop(h.opts.logger),
		State:           h.pc,
		Launcher:        h.launcher,
		ServicePriority: h.config.ServicePriority,
		LogPump:         h.opts.pump,
		Submit:          h.submit,
	}
	for _, p := range h.opts.plugins {
		if err := p.Initialize(ctx, cfg); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		if err := h.coord.Register("plugin:"+p.Name(), p.Shutdown); err != nil {
			return err
		}
		h.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}
	return nil
}

// startConsole starts the command input worker. In interactive mode it
// feeds console lines to the dispatcher and runs the rc script once the
// dispatcher is ready. In daemon mode it runs the rc script and then
// stdin to end of input itself.
func (h *Host) startConsole(ctx context.Context) error {
	work := h.workContext(ctx)
	body := func(context.Context) error {
		return h.runner.ReadConsole(work, h.opts.stdin, h.opts.stdout)
	}
	if h.config.Daemon {
		body = func(context.Context) error { return h.daemonInput(work) }
	}

	hd, err := h.launcher.Launch(ctx, launcher.Task{
		Name:     "console",
		Priority: h.config.HostPriority,
		Body:     body,
	})
	if err != nil {
		return err
	}
	h.pc.SetConsoleThread(hd.ThreadID)

	if h.config.Daemon || h.config.RCFile == "" {
		return nil
	}
	_, err = h.launcher.Launch(ctx, launcher.Task{
		Name:     "rcscript",
		Priority: h.config.HostPriority,
		Body: func(context.Context) error {
			select {
			case <-h.runner.Ready():
			case <-work.Done():
				return nil
			}
			h.runScript(work)
			return nil
		},
	})
	return err
}

// workContext is cancelled as soon as shutdown begins, which interrupts
// scripts paused mid-way.
func (h *Host) workContext(ctx context.Context) context.Context {
	work, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-h.pc.ShuttingDownCh():
		case <-work.Done():
		}
		cancel()
	}()
	return work
}

func (h *Host) runScript(ctx context.Context) {
	err := h.runner.RunScript(ctx, h.config.RCFile, h.opts.stdout)
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("rc script failed", log.String("path", h.config.RCFile), log.Err(err))
	}
}

// daemonInput is the daemon-mode console: the rc script, then stdin to
// end of input. End of input lets running engines finish briefly and
// then shuts down gracefully.
func (h *Host) daemonInput(ctx context.Context) error {
	if h.config.RCFile != "" {
		h.runScript(ctx)
	}
	if err := h.runner.RunInput(ctx, h.opts.stdin, h.opts.stdout); err != nil && ctx.Err() == nil {
		h.logger.Warn("reading commands failed", log.Err(err))
	}
	if ctx.Err() != nil {
		return nil
	}

	h.logger.Info("end of input")
	h.awaitEnginesStopped(ctx, h.config.QuiesceTimeout)
	err := h.coord.Request(h.reqCtx, lifecycle.Trigger{Kind: lifecycle.TriggerEndOfInput})
	if err != nil && !errors.Is(err, lifecycle.ErrAlreadyShuttingDown) && !errors.Is(err, lifecycle.ErrFinished) {
		return err
	}
	return nil
}

func (h *Host) awaitEnginesStopped(ctx context.Context, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(enginePoll)
	defer ticker.Stop()
	for h.engines.AnyStarted() {
		select {
		case <-ticker.C:
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Host) awaitDone(timeout time.Duration) {
	select {
	case <-h.coord.Done():
	case <-time.After(timeout):
		h.logger.Warn("shutdown still in progress", log.Duration("waited", timeout))
	}
}

func (h *Host) submit(line string, out io.Writer, done func(err error)) {
	h.runner.SubmitSocket(runner.Request{Line: line, Out: out, Done: done})
}

// requestAsync asks for shutdown without blocking the caller. The
// watchdog and command handlers use it so the workers the shutdown joins
// are never the ones running it.
func (h *Host) requestAsync(t lifecycle.Trigger) {
	h.shutdownAsync(t.Mode(), t)
}

func (h *Host) shutdownAsync(mode lifecycle.Mode, t lifecycle.Trigger) {
	go func() {
		err := h.coord.Shutdown(h.reqCtx, mode, t)
		if err != nil && !errors.Is(err, lifecycle.ErrAlreadyShuttingDown) && !errors.Is(err, lifecycle.ErrFinished) {
			h.logger.Error("shutdown request failed", log.Trigger(t), log.Err(err))
		}
	}()
}

func (h *Host) criticalFailure(name string, err error) {
	go h.coord.Abort(h.reqCtx, fmt.Errorf("critical worker %s: %w", name, err))
}

func (h *Host) exitCode() int {
	return h.coord.ExitCode()
}

// Coordinator returns the shutdown coordinator, e.g. to defer AtExit.
func (h *Host) Coordinator() *lifecycle.Coordinator {
	return h.coord
}

// State returns the process control block.
func (h *Host) State() *lifecycle.ProcessControl {
	return h.pc
}

// Engines returns the engine subsystem.
func (h *Host) Engines() *sim.Subsystem {
	return h.engines
}

// Exec runs one command line directly.
func (h *Host) Exec(ctx context.Context, line string, out io.Writer) error {
	return h.runner.Exec(ctx, line, out)
}

// multiEmitter fans phase changes out in order.
type multiEmitter []lifecycle.EventEmitter

func (m multiEmitter) OnStateChange(previous, current lifecycle.Phase, reason string) {
	for _, e := range m {
		e.OnStateChange(previous, current, reason)
	}
}
