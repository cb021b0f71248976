// Package control serves the host command set over TCP. Each line a
// client sends is queued on the socket notification channel and run by
// the host's dispatcher; the reply is written back followed by "ok" or
// "error".
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/enginehost/pkg/host"
	"github.com/bft-labs/enginehost/pkg/launcher"
	"github.com/bft-labs/enginehost/pkg/log"
)

// ErrNoSubmitter is returned when the host provides no command queue.
var ErrNoSubmitter = errors.New("control: host provides no command submitter")

// Config holds configuration options for the control plugin.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:3270". Empty disables
	// the plugin.
	Addr string

	// BackoffInitial and BackoffMax bound the delay after a failed
	// accept.
	// Default: 50 milliseconds and 5 seconds
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Plugin is the TCP control listener.
type Plugin struct {
	cfg Config

	mu       sync.Mutex
	logger   log.Logger
	submit   func(line string, out io.Writer, done func(err error))
	listener net.Listener
	cancel   context.CancelFunc
	worker   *launcher.Handle
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New creates a control plugin.
func New(cfg Config) *Plugin {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	return &Plugin{
		cfg:   cfg,
		conns: make(map[net.Conn]struct{}),
	}
}

// WithControl returns a host Option that enables the control listener.
func WithControl(cfg Config) host.Option {
	return host.WithPlugin(New(cfg))
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "control"
}

// Initialize binds the listener and starts accepting. A bind failure is a
// startup error.
func (p *Plugin) Initialize(ctx context.Context, cfg host.PluginConfig) error {
	p.mu.Lock()
	p.logger = log.OrNoop(cfg.Logger).With(log.Component("control"))
	p.submit = cfg.Submit
	p.mu.Unlock()

	if p.cfg.Addr == "" {
		p.logger.Info("control listener disabled")
		return nil
	}
	if cfg.Submit == nil {
		return ErrNoSubmitter
	}

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", p.cfg.Addr, err)
	}

	acceptCtx, cancel := context.WithCancel(ctx)
	h, err := cfg.Launcher.Launch(acceptCtx, launcher.Task{
		Name:     "control",
		Priority: cfg.ServicePriority,
		Body: func(ctx context.Context) error {
			return p.acceptLoop(ctx, ln)
		},
	})
	if err != nil {
		cancel()
		ln.Close()
		return err
	}

	p.mu.Lock()
	p.listener = ln
	p.cancel = cancel
	p.worker = h
	p.mu.Unlock()

	p.logger.Info("control listener started", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil when not listening.
func (p *Plugin) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Shutdown closes the listener and every client connection and waits for
// their goroutines.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel, ln, worker := p.cancel, p.listener, p.worker
	p.closed = true
	for c := range p.conns {
		c.Close()
	}
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	ln.Close()

	done := make(chan struct{})
	go func() {
		<-worker.Done()
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Plugin) acceptLoop(ctx context.Context, ln net.Listener) error {
	b := newBackoff(p.cfg.BackoffInitial, p.cfg.BackoffMax)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.logger.Warn("accept failed", log.Err(err), log.Duration("backoff", b.Current()))
			if !b.Sleep(ctx) {
				return nil
			}
			continue
		}
		b.Reset()

		if !p.track(conn) {
			conn.Close()
			return nil
		}
		p.wg.Add(1)
		go p.serve(ctx, conn)
	}
}

// track registers conn unless shutdown has already closed the listener.
func (p *Plugin) track(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.conns[conn] = struct{}{}
	return true
}

func (p *Plugin) untrack(conn net.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	conn.Close()
}

// serve runs one client's commands in order, waiting for each reply.
func (p *Plugin) serve(ctx context.Context, conn net.Conn) {
	defer p.wg.Done()
	defer p.untrack(conn)

	remote := conn.RemoteAddr().String()
	p.logger.Debug("control client connected", log.String("remote", remote))

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		result := make(chan error, 1)
		p.submit(line, conn, func(err error) { result <- err })

		select {
		case err := <-result:
			status := "ok"
			if err != nil {
				status = "error"
			}
			if _, werr := fmt.Fprintln(conn, status); werr != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
	p.logger.Debug("control client disconnected", log.String("remote", remote))
}

// Ensure Plugin implements host.Plugin.
var _ host.Plugin = (*Plugin)(nil)
