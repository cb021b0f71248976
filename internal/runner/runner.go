package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/enginehost/pkg/log"
	"github.com/bft-labs/enginehost/pkg/notify"
)

// Common runner errors.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// CommandError reports a failed command, with its script line when it
// came from a script.
type CommandError struct {
	Line    int
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Handler executes one command. args excludes the command name.
type Handler func(ctx context.Context, args []string, out io.Writer) error

type command struct {
	name    string
	usage   string
	handler Handler
}

// Request is one queued command line and where its output goes.
type Request struct {
	Line string
	Out  io.Writer
	// Done, if set, is called with the command's error once it has run.
	Done func(err error)
}

type queue struct {
	mu    sync.Mutex
	items []Request
}

func (q *queue) push(r Request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

func (q *queue) take() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Runner executes operator commands from scripts, standard input, the
// console and the control socket.
type Runner struct {
	logger log.Logger
	pair   *notify.Pair

	mu       sync.RWMutex
	commands map[string]command

	console queue
	socket  queue

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a runner fed by pair.
func New(pair *notify.Pair, logger log.Logger) *Runner {
	r := &Runner{
		logger:   log.OrNoop(logger).With(log.Component("runner")),
		pair:     pair,
		commands: make(map[string]command),
		ready:    make(chan struct{}),
	}
	r.Register("help", "help", r.help)
	return r
}

// Register adds a command. A later registration replaces an earlier one.
func (r *Runner) Register(name, usage string, h Handler) {
	r.mu.Lock()
	r.commands[strings.ToLower(name)] = command{name: name, usage: usage, handler: h}
	r.mu.Unlock()
}

// Exec parses and runs a single command line. Blank lines and comments
// are no-ops.
func (r *Runner) Exec(ctx context.Context, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	name := strings.ToLower(fields[0])

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return &CommandError{Command: name, Err: ErrUnknownCommand}
	}

	r.logger.Debug("executing command", log.String("command", name))
	if err := cmd.handler(ctx, fields[1:], out); err != nil {
		if errors.Is(err, ErrUsage) {
			err = fmt.Errorf("%w: %s", ErrUsage, cmd.usage)
		}
		return &CommandError{Command: name, Err: err}
	}
	return nil
}

// RunScript runs an rc file line by line. A failing command is logged and
// the script continues. "pause <seconds>" waits, cancellably.
func (r *Runner) RunScript(ctx context.Context, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	if out == nil {
		out = io.Discard
	}

	r.logger.Info("running script", log.String("path", path))
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if fields := strings.Fields(line); strings.EqualFold(fields[0], "pause") {
			if err := pause(ctx, fields[1:]); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("script error", log.Err(&CommandError{Line: lineNo, Command: "pause", Err: err}))
			}
			continue
		}

		if err := r.Exec(ctx, line, out); err != nil {
			var ce *CommandError
			if errors.As(err, &ce) {
				ce.Line = lineNo
			}
			r.logger.Warn("script error", log.Err(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	r.logger.Info("script complete", log.String("path", path), log.Int("lines", lineNo))
	return nil
}

func pause(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: pause <seconds>", ErrUsage)
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil || secs < 0 {
		return fmt.Errorf("%w: pause <seconds>", ErrUsage)
	}
	t := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunInput executes commands read from in until end of input. It returns
// nil at EOF; the caller decides what end of input means.
func (r *Runner) RunInput(ctx context.Context, in io.Reader, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if err := r.Exec(ctx, sc.Text(), out); err != nil {
			r.logger.Warn("command failed", log.Err(err))
			fmt.Fprintln(out, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return sc.Err()
}

// SubmitConsole queues a console command and wakes the dispatcher.
func (r *Runner) SubmitConsole(req Request) {
	r.console.push(req)
	r.pair.Console.Signal()
}

// SubmitSocket queues a control-socket command and wakes the dispatcher.
func (r *Runner) SubmitSocket(req Request) {
	r.socket.push(req)
	r.pair.Socket.Signal()
}

// ReadConsole turns lines read from in into console requests until EOF.
func (r *Runner) ReadConsole(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		r.SubmitConsole(Request{Line: sc.Text(), Out: out})
	}
	return sc.Err()
}

// Ready is closed once Serve is consuming commands.
func (r *Runner) Ready() <-chan struct{} {
	return r.ready
}

// Serve is the interactive dispatcher. It drains both notification
// channels and executes their queued commands until ctx is done or both
// channels are closed.
func (r *Runner) Serve(ctx context.Context) error {
	r.readyOnce.Do(func() { close(r.ready) })

	console, socket := r.pair.Console, r.pair.Socket
	consoleDone, socketDone := console.Done(), socket.Done()
	for consoleDone != nil || socketDone != nil {
		select {
		case <-console.C():
			console.Drain()
			r.dispatch(ctx, r.console.take())
		case <-socket.C():
			socket.Drain()
			r.dispatch(ctx, r.socket.take())
		case <-consoleDone:
			consoleDone = nil
			r.dispatch(ctx, r.console.take())
		case <-socketDone:
			socketDone = nil
			r.dispatch(ctx, r.socket.take())
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (r *Runner) dispatch(ctx context.Context, reqs []Request) {
	for _, req := range reqs {
		out := req.Out
		if out == nil {
			out = io.Discard
		}
		err := r.Exec(ctx, req.Line, out)
		if err != nil {
			r.logger.Warn("command failed", log.Err(err))
			fmt.Fprintln(out, err)
		}
		if req.Done != nil {
			req.Done(err)
		}
	}
}

func (r *Runner) help(ctx context.Context, args []string, out io.Writer) error {
	r.mu.RLock()
	usages := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		usages = append(usages, c.usage)
	}
	r.mu.RUnlock()

	sort.Strings(usages)
	for _, u := range usages {
		fmt.Fprintln(out, "  "+u)
	}
	return nil
}
