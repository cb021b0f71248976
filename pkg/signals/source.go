package signals

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
)

// Source is the platform message pump: it receives OS signals and feeds
// them to a Router stamped with the thread they belong to.
//
// os/signal does not report which thread the kernel delivered a signal to,
// so Source stamps an interrupt with the console thread and a termination
// request with the main thread. The Router's origin check therefore never
// rejects a signal arriving through Source; it only filters notifications
// from producers that know their real origin thread.
type Source struct {
	router *Router
	state  *lifecycle.ProcessControl
	logger log.Logger

	ch       chan os.Signal
	released atomic.Bool
}

// NewSource creates a source for router.
func NewSource(router *Router, state *lifecycle.ProcessControl, logger log.Logger) *Source {
	return &Source{
		router: router,
		state:  state,
		logger: log.OrNoop(logger).With(log.Component("signals")),
		ch:     make(chan os.Signal, 4),
	}
}

// Start installs the signal intercepts. Failing here is a startup error.
func (s *Source) Start() error {
	sigs := handledSignals()
	signal.Notify(s.ch, sigs...)
	s.logger.Debug("signal handlers installed", log.Int("signals", len(sigs)))
	return nil
}

// Run pumps signals into the router until shutdown finishes or ctx is done.
func (s *Source) Run(ctx context.Context) error {
	defer signal.Stop(s.ch)
	for {
		select {
		case sig := <-s.ch:
			n, ok := s.classify(sig)
			if !ok {
				continue
			}
			a := s.router.Deliver(n)
			s.logger.Debug("signal received",
				log.String("signal", sig.String()),
				log.String("action", a.String()),
			)
		case <-s.state.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Release hands the interrupt key back to the OS default so a further
// interrupt terminates the process outright.
func (s *Source) Release() {
	if s.released.Swap(true) {
		return
	}
	signal.Reset(os.Interrupt)
	s.logger.Warn("interrupt intercept released")
}

// Released reports whether Release has been called.
func (s *Source) Released() bool {
	return s.released.Load()
}
