package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bft-labs/enginehost/pkg/engine"
	"github.com/bft-labs/enginehost/pkg/log"
)

// Common lifecycle errors.
var (
	ErrAlreadyShuttingDown = errors.New("shutdown already in progress")
	ErrFinished            = errors.New("shutdown already finished")
	ErrQuiesceTimeout      = errors.New("engines did not quiesce")
)

// Defaults for Config.
const (
	DefaultQuiesceTimeout  = 5 * time.Second
	DefaultQuiescePoll     = 10 * time.Millisecond
	DefaultFlushDelay      = 100 * time.Millisecond
	DefaultEscalationGrace = 5 * time.Second
)

// CleanupFunc releases a resource during shutdown.
type CleanupFunc func(ctx context.Context) error

// Config tunes the shutdown sequence.
type Config struct {
	// QuiesceTimeout bounds how long the graceful path waits for engines.
	QuiesceTimeout time.Duration
	// QuiescePoll is the engine re-check period while quiescing.
	QuiescePoll time.Duration
	// FlushDelay gives pending log output time to reach its sink before
	// and after an escalated or aborted shutdown.
	FlushDelay time.Duration
	// EscalationGrace bounds how long an escalation waits for a stuck
	// shutdown before terminating the process outright.
	EscalationGrace time.Duration
}

// DefaultConfig returns a Config with the default timings.
func DefaultConfig() Config {
	return Config{
		QuiesceTimeout:  DefaultQuiesceTimeout,
		QuiescePoll:     DefaultQuiescePoll,
		FlushDelay:      DefaultFlushDelay,
		EscalationGrace: DefaultEscalationGrace,
	}
}

// CleanupResult records how one cleanup went.
type CleanupResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Result summarizes a completed shutdown.
type Result struct {
	Trigger  Trigger
	Mode     Mode
	Cleanups []CleanupResult
	Quiesce  error
	Duration time.Duration
}

// FailedCleanups returns the names of cleanups that returned an error.
func (r *Result) FailedCleanups() []string {
	var failed []string
	for _, cr := range r.Cleanups {
		if cr.Err != nil {
			failed = append(failed, cr.Name)
		}
	}
	return failed
}

type registration struct {
	name string
	fn   CleanupFunc
}

type flusher struct {
	name string
	fn   func()
}

// Coordinator owns the Running -> ShuttingDown -> Finished transition and
// runs the shutdown sequence at most once, whichever trigger wins.
type Coordinator struct {
	state    *ProcessControl
	config   Config
	logger   log.Logger
	quiescer engine.Quiescer
	emitter  EventEmitter

	mu        sync.Mutex
	cleanups  []registration
	flushers  []flusher
	trigger   Trigger
	mode      Mode
	exitCode  int
	result    *Result
	releaseFn CleanupFunc

	releaseOnce sync.Once
	releaseErr  error

	// Replaced in tests.
	exit  func(code int)
	sleep func(d time.Duration)
}

// NewCoordinator creates a coordinator over state. quiescer may be nil when
// there are no engines to drain.
func NewCoordinator(state *ProcessControl, cfg Config, logger log.Logger, quiescer engine.Quiescer, emitter EventEmitter) *Coordinator {
	def := DefaultConfig()
	if cfg.QuiesceTimeout <= 0 {
		cfg.QuiesceTimeout = def.QuiesceTimeout
	}
	if cfg.QuiescePoll <= 0 {
		cfg.QuiescePoll = def.QuiescePoll
	}
	if cfg.FlushDelay < 0 {
		cfg.FlushDelay = 0
	}
	if cfg.EscalationGrace <= 0 {
		cfg.EscalationGrace = def.EscalationGrace
	}
	return &Coordinator{
		state:    state,
		config:   cfg,
		logger:   log.OrNoop(logger).With(log.Component("coordinator")),
		quiescer: quiescer,
		emitter:  emitter,
		exit:     os.Exit,
		sleep:    time.Sleep,
	}
}

// State returns the process control block the coordinator drives.
func (c *Coordinator) State() *ProcessControl {
	return c.state
}

// Register adds a cleanup. Cleanups run exactly once during shutdown, in
// reverse order of registration. Registration is refused once shutdown has
// begun.
func (c *Coordinator) Register(name string, fn CleanupFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.ShuttingDown() {
		return fmt.Errorf("register %s: %w", name, ErrAlreadyShuttingDown)
	}
	c.cleanups = append(c.cleanups, registration{name: name, fn: fn})
	return nil
}

// AddFlusher adds an output flusher run at the start of the graceful path
// and around escalated or aborted exits.
func (c *Coordinator) AddFlusher(name string, fn func()) {
	c.mu.Lock()
	c.flushers = append(c.flushers, flusher{name: name, fn: fn})
	c.mu.Unlock()
}

// SetConfigReleaser registers the configuration release step. The graceful
// path runs it after the first flush and before the engines quiesce; the
// interrupt escalation path runs it first, before anything else. On the
// plain immediate path it runs as the cleanup named "release_config".
// Whichever path reaches it first does the work; it runs once.
func (c *Coordinator) SetConfigReleaser(fn CleanupFunc) error {
	c.mu.Lock()
	c.releaseFn = fn
	c.mu.Unlock()
	return c.Register("release_config", c.releaseConfig)
}

func (c *Coordinator) releaseConfig(ctx context.Context) error {
	c.releaseOnce.Do(func() {
		c.mu.Lock()
		fn := c.releaseFn
		c.mu.Unlock()
		if fn != nil {
			c.releaseErr = fn(ctx)
		}
	})
	return c.releaseErr
}

// Request routes a trigger to the termination path it calls for.
func (c *Coordinator) Request(ctx context.Context, t Trigger) error {
	return c.Shutdown(ctx, t.Mode(), t)
}

// Shutdown runs the shutdown sequence if the caller wins the transition out
// of Running. Losers get ErrAlreadyShuttingDown or ErrFinished and nothing
// is re-run; an immediate request from a loser still cuts an in-progress
// graceful drain short.
//
// The graceful path flushes output, releases the configuration, waits for
// the engines to quiesce and then runs the cleanups. The immediate path
// goes straight to the cleanups.
func (c *Coordinator) Shutdown(ctx context.Context, mode Mode, t Trigger) error {
	if mode == ModeImmediate {
		c.state.MarkImmediate()
	}
	if !c.state.BeginShutdown() {
		if c.state.ShutdownFinished() {
			return ErrFinished
		}
		c.logger.Debug("shutdown already in progress", log.Trigger(t))
		return ErrAlreadyShuttingDown
	}

	start := time.Now()
	c.mu.Lock()
	c.trigger = t
	c.mode = mode
	if c.exitCode == ExitOK {
		c.exitCode = exitCodeFor(t)
	}
	cleanups := make([]registration, len(c.cleanups))
	copy(cleanups, c.cleanups)
	c.mu.Unlock()

	c.emit(PhaseRunning, PhaseShuttingDown, t.String())
	c.logger.Info("shutdown initiated",
		log.Trigger(t),
		log.String("mode", mode.String()),
	)

	res := &Result{Trigger: t, Mode: mode}
	if mode == ModeGraceful {
		c.flush()
		if err := c.releaseConfig(ctx); err != nil {
			c.logger.Error("release configuration failed", log.Err(err))
		}
		res.Quiesce = c.quiesce(ctx)
	}
	res.Cleanups = c.runCleanups(ctx, cleanups)
	res.Duration = time.Since(start)

	c.mu.Lock()
	c.result = res
	c.mu.Unlock()

	c.state.Finish()
	c.emit(PhaseShuttingDown, PhaseFinished, t.String())
	c.logger.Info("shutdown finished",
		log.Duration("duration", res.Duration),
		log.Int("cleanups", len(res.Cleanups)),
	)
	return nil
}

// Escalate handles a repeated operator interrupt that the graceful path
// never honoured. It releases the configuration first, then performs a
// delayed immediate shutdown. If another shutdown is already stuck in
// progress it waits EscalationGrace and then terminates the process.
func (c *Coordinator) Escalate(ctx context.Context, t Trigger) error {
	c.state.MarkImmediate()
	c.setExitCode(ExitInterrupted)

	c.logger.Warn("interrupt not honoured, forcing immediate shutdown", log.Trigger(t))
	if err := c.releaseConfig(ctx); err != nil {
		c.logger.Error("release configuration failed", log.Err(err))
	}

	c.flush()
	c.sleep(c.config.FlushDelay)
	err := c.Shutdown(ctx, ModeImmediate, t)
	c.flush()
	c.sleep(c.config.FlushDelay)

	if errors.Is(err, ErrAlreadyShuttingDown) {
		select {
		case <-c.state.Done():
		case <-time.After(c.config.EscalationGrace):
			c.logger.Error("shutdown stuck, terminating",
				log.Duration("grace", c.config.EscalationGrace))
			c.flush()
			c.exit(ExitInterrupted)
		}
	}
	return err
}

// Abort handles fatal startup and launch failures: it logs err, gives the
// log a moment to drain, runs the immediate path and records ExitFatal.
func (c *Coordinator) Abort(ctx context.Context, err error) {
	c.setExitCode(ExitFatal)
	c.logger.Error("fatal error, terminating", log.Err(err))
	c.flush()
	c.sleep(c.config.FlushDelay)
	_ = c.Shutdown(ctx, ModeImmediate, Trigger{Kind: TriggerStartupFailure, Reason: err.Error()})
	c.flush()
}

// AtExit is the process-exit hook. Defer it directly in main so any exit
// route, including a panic on the main goroutine, still runs the shutdown
// sequence once.
func (c *Coordinator) AtExit() {
	if r := recover(); r != nil {
		c.setExitCode(ExitFatal)
		c.logger.Error("fatal internal fault", log.Any("panic", r))
		_ = c.Shutdown(context.Background(), ModeImmediate, Trigger{
			Kind:   TriggerProcessExit,
			Reason: fmt.Sprint(r),
		})
		c.flush()
		c.exit(ExitFatal)
		return
	}
	if c.state.Phase() == PhaseRunning {
		_ = c.Shutdown(context.Background(), ModeImmediate, Trigger{Kind: TriggerProcessExit})
	}
	c.awaitFinished()
}

// Exit runs the shutdown sequence if nobody has yet, then terminates the
// process with the recorded exit code.
func (c *Coordinator) Exit() {
	if c.state.Phase() == PhaseRunning {
		_ = c.Shutdown(context.Background(), ModeImmediate, Trigger{Kind: TriggerProcessExit})
	}
	c.awaitFinished()
	c.flush()
	c.exit(c.ExitCode())
}

// awaitFinished waits for a shutdown running on another goroutine, bounded
// by EscalationGrace.
func (c *Coordinator) awaitFinished() {
	select {
	case <-c.state.Done():
	case <-time.After(c.config.EscalationGrace):
		c.logger.Warn("shutdown still in progress at exit",
			log.Duration("grace", c.config.EscalationGrace))
	}
}

// Wait blocks until shutdown has finished or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.state.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the phase reaches Finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.state.Done()
}

// ExitCode returns the process exit status implied by how shutdown went.
func (c *Coordinator) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// Trigger returns the trigger that won the transition, if any.
func (c *Coordinator) Trigger() (Trigger, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trigger, c.trigger.Kind != 0
}

// Result returns the shutdown summary. Only valid after Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.state.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) setExitCode(code int) {
	c.mu.Lock()
	if code > c.exitCode {
		c.exitCode = code
	}
	c.mu.Unlock()
}

func exitCodeFor(t Trigger) int {
	switch t.Kind {
	case TriggerFatalEngineFault, TriggerStartupFailure:
		return ExitFatal
	default:
		return ExitOK
	}
}

func (c *Coordinator) flush() {
	c.mu.Lock()
	fs := make([]flusher, len(c.flushers))
	copy(fs, c.flushers)
	c.mu.Unlock()
	for _, f := range fs {
		f.fn()
	}
}

// quiesce stops engines and waits for them, giving up on timeout, on ctx,
// or as soon as an immediate shutdown is requested.
func (c *Coordinator) quiesce(ctx context.Context) error {
	if c.quiescer == nil {
		return nil
	}
	c.quiescer.StopAll()

	deadline := time.NewTimer(c.config.QuiesceTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(c.config.QuiescePoll)
	defer poll.Stop()

	for c.quiescer.AnyStarted() {
		if c.state.ShutdownImmediate() {
			c.logger.Warn("immediate shutdown requested, abandoning quiesce")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			c.logger.Warn("engines did not quiesce",
				log.Duration("timeout", c.config.QuiesceTimeout))
			return ErrQuiesceTimeout
		case <-poll.C:
		}
	}
	return nil
}

// runCleanups runs cleanups in reverse registration order. A failing or
// panicking cleanup is logged and the rest still run.
func (c *Coordinator) runCleanups(ctx context.Context, regs []registration) []CleanupResult {
	results := make([]CleanupResult, 0, len(regs))
	for i := len(regs) - 1; i >= 0; i-- {
		r := regs[i]
		start := time.Now()
		err := runCleanup(ctx, r.fn)
		cr := CleanupResult{Name: r.name, Duration: time.Since(start), Err: err}
		results = append(results, cr)
		if err != nil {
			c.logger.Error("cleanup failed", log.String("cleanup", r.name), log.Err(err))
		} else {
			c.logger.Debug("cleanup complete", log.String("cleanup", r.name))
		}
	}
	return results
}

func runCleanup(ctx context.Context, fn CleanupFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (c *Coordinator) emit(previous, current Phase, reason string) {
	if c.emitter != nil {
		c.emitter.OnStateChange(previous, current, reason)
	}
}
