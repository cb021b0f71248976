package launcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
)

// Common launcher errors.
var (
	ErrShuttingDown = errors.New("shutdown in progress, not launching")
	ErrDetached     = errors.New("worker is detached")
	ErrNoBody       = errors.New("task has no body")
	ErrNameInUse    = errors.New("a worker with this name is running")
)

// Policy selects whether a worker can be joined.
type Policy int

const (
	// Detached workers are fire-and-forget.
	Detached Policy = iota
	// Joinable workers can be waited on with Handle.Join.
	Joinable
)

// String returns a human-readable representation of the policy.
func (p Policy) String() string {
	if p == Joinable {
		return "joinable"
	}
	return "detached"
}

// LaunchError reports a worker that could not be started.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Task describes a worker to start.
type Task struct {
	// Name identifies the worker in logs and status output.
	Name string
	// Priority is the requested OS scheduling priority (nice value, lower
	// runs first).
	Priority int
	Policy   Policy
	// Critical workers are required for basic operation. Failing to launch
	// one, or one exiting with an error while the host is running, is
	// reported to the critical-failure handler.
	Critical bool
	Body     func(ctx context.Context) error
}

// Handle is owned by whoever launched the worker.
type Handle struct {
	Name     string
	ThreadID lifecycle.ThreadID
	Policy   Policy
	Priority int

	done chan struct{}
	err  error
}

// Done is closed when the worker body returns.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Join waits for a joinable worker and returns its error.
func (h *Handle) Join(ctx context.Context) error {
	if h.Policy != Joinable {
		return fmt.Errorf("join %s: %w", h.Name, ErrDetached)
	}
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// WithPriorityFloor sets the numerically lowest priority the process may
// request. Requests below it are raised to it.
func WithPriorityFloor(floor int) Option {
	return func(l *Launcher) {
		l.floor = floor
		l.hasFloor = true
	}
}

// WithCriticalFailureHandler sets the function called when a critical
// worker fails to launch or exits with an error while running.
func WithCriticalFailureHandler(fn func(name string, err error)) Option {
	return func(l *Launcher) {
		l.onCritical = fn
	}
}

// Launcher starts named workers, each pinned to its own OS thread.
type Launcher struct {
	state      *lifecycle.ProcessControl
	logger     log.Logger
	floor      int
	hasFloor   bool
	onCritical func(name string, err error)

	mu      sync.Mutex
	workers map[string]*Handle

	// Replaced in tests.
	threadID    func() lifecycle.ThreadID
	setPriority func(tid lifecycle.ThreadID, prio int) error
}

// New creates a launcher. Once state leaves Running no new workers start.
func New(state *lifecycle.ProcessControl, opts ...Option) *Launcher {
	l := &Launcher{
		state:       state,
		workers:     make(map[string]*Handle),
		threadID:    currentThreadID,
		setPriority: setThreadPriority,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = log.OrNoop(l.logger).With(log.Component("launcher"))
	return l
}

// CurrentThreadID returns the id of the calling OS thread. The caller
// should hold runtime.LockOSThread for the id to stay meaningful.
func CurrentThreadID() lifecycle.ThreadID {
	return currentThreadID()
}

// ClampPriority applies the privilege floor to prio.
func (l *Launcher) ClampPriority(prio int) int {
	if l.hasFloor && prio < l.floor {
		return l.floor
	}
	return prio
}

// Launch starts task on a new worker and returns once the worker is
// running on its own thread with the requested priority applied.
func (l *Launcher) Launch(ctx context.Context, task Task) (*Handle, error) {
	h, err := l.launch(ctx, task)
	if err != nil {
		l.logger.Error("worker launch failed",
			log.Worker(task.Name),
			log.Bool("critical", task.Critical),
			log.Err(err),
		)
		if task.Critical && l.onCritical != nil && !errors.Is(err, ErrShuttingDown) {
			l.onCritical(task.Name, err)
		}
		return nil, err
	}
	return h, nil
}

func (l *Launcher) launch(ctx context.Context, task Task) (*Handle, error) {
	if task.Body == nil {
		return nil, &LaunchError{Name: task.Name, Err: ErrNoBody}
	}
	if l.state.ShuttingDown() {
		return nil, &LaunchError{Name: task.Name, Err: ErrShuttingDown}
	}

	prio := l.ClampPriority(task.Priority)
	if prio != task.Priority {
		l.logger.Warn("priority clamped",
			log.Worker(task.Name),
			log.Int("requested", task.Priority),
			log.Int("applied", prio),
		)
	}

	h := &Handle{
		Name:     task.Name,
		Policy:   task.Policy,
		Priority: prio,
		done:     make(chan struct{}),
	}
	started := make(chan error, 1)

	l.mu.Lock()
	if _, ok := l.workers[task.Name]; ok {
		l.mu.Unlock()
		return nil, &LaunchError{Name: task.Name, Err: ErrNameInUse}
	}
	l.workers[task.Name] = h
	l.mu.Unlock()

	go func() {
		// Never unlocked: the thread carries the worker's priority, so it
		// exits with the goroutine instead of returning to the scheduler.
		runtime.LockOSThread()

		tid := l.threadID()
		l.mu.Lock()
		h.ThreadID = tid
		l.mu.Unlock()
		if err := l.setPriority(h.ThreadID, prio); err != nil {
			l.forget(h)
			close(h.done)
			started <- err
			return
		}
		started <- nil

		h.err = l.run(ctx, task)
		l.forget(h)
		close(h.done)
		if h.err != nil && task.Critical && l.onCritical != nil && !l.state.ShuttingDown() {
			l.onCritical(task.Name, h.err)
		}
	}()

	if err := <-started; err != nil {
		return nil, &LaunchError{Name: task.Name, Err: err}
	}

	l.logger.Debug("worker started",
		log.Worker(task.Name),
		log.Thread(uint64(h.ThreadID)),
		log.Int("priority", prio),
		log.String("policy", task.Policy.String()),
	)
	return h, nil
}

func (l *Launcher) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panic: %v", task.Name, r)
		}
	}()
	err = task.Body(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Error("worker exited with error", log.Worker(task.Name), log.Err(err))
	} else {
		l.logger.Debug("worker exited", log.Worker(task.Name))
	}
	return err
}

func (l *Launcher) forget(h *Handle) {
	l.mu.Lock()
	if l.workers[h.Name] == h {
		delete(l.workers, h.Name)
	}
	l.mu.Unlock()
}

// Workers returns the running workers sorted by name.
func (l *Launcher) Workers() []Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Handle, 0, len(l.workers))
	for _, h := range l.workers {
		out = append(out, Handle{Name: h.Name, ThreadID: h.ThreadID, Policy: h.Policy, Priority: h.Priority})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// JoinAll waits for every running joinable worker. Detached workers are
// left alone.
func (l *Launcher) JoinAll(ctx context.Context) error {
	l.mu.Lock()
	var joinable []*Handle
	for _, h := range l.workers {
		if h.Policy == Joinable {
			joinable = append(joinable, h)
		}
	}
	l.mu.Unlock()

	var errs []error
	for _, h := range joinable {
		if err := h.Join(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
		}
	}
	return errors.Join(errs...)
}
