package state

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
)

// Recorder keeps the status file in step with the shutdown phase. It
// implements lifecycle.EventEmitter. Write failures are logged and never
// interrupt shutdown.
type Recorder struct {
	repo     Repository
	logger   log.Logger
	exitCode func() int

	mu     sync.Mutex
	status Status
}

// NewRecorder creates a recorder for a new run. exitCode is consulted when
// the phase reaches Finished.
func NewRecorder(repo Repository, logger log.Logger, exitCode func() int) *Recorder {
	return &Recorder{
		repo:     repo,
		logger:   log.OrNoop(logger).With(log.Component("status")),
		exitCode: exitCode,
		status:   NewStatus(),
	}
}

// Start reports an unfinished previous run, then writes the Running status.
func (r *Recorder) Start(ctx context.Context) error {
	prev, err := r.repo.Load(ctx)
	if err != nil {
		r.logger.Warn("previous status unreadable", log.Err(err))
	} else if prev.Unfinished() {
		r.logger.Warn("previous run did not shut down cleanly",
			log.String("run_id", prev.RunID),
			log.Int("pid", prev.PID),
			log.String("phase", prev.Phase),
		)
	}

	r.mu.Lock()
	s := r.status
	r.mu.Unlock()
	return r.repo.Save(ctx, s)
}

// OnStateChange records the new phase.
func (r *Recorder) OnStateChange(previous, current lifecycle.Phase, reason string) {
	r.mu.Lock()
	r.status.Phase = current.String()
	if r.status.Trigger == "" {
		r.status.Trigger = reason
	}
	if current == lifecycle.PhaseFinished && r.exitCode != nil {
		code := r.exitCode()
		r.status.ExitCode = &code
	}
	r.status.UpdatedAt = time.Now()
	s := r.status
	r.mu.Unlock()

	if err := r.repo.Save(context.Background(), s); err != nil {
		r.logger.Warn("status write failed", log.String("phase", s.Phase), log.Err(err))
	}
}

// Status returns the current status.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
