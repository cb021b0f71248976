package host

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/enginehost/internal/cliconfig"
	"github.com/bft-labs/enginehost/internal/runner"
	"github.com/bft-labs/enginehost/pkg/lifecycle"
)

func (h *Host) registerCommands() {
	h.runner.Register("quit", "quit [force]", h.cmdQuit)
	h.runner.Register("exit", "exit", h.cmdExit)
	h.runner.Register("status", "status", h.cmdStatus)
	h.runner.Register("start", "start [n]", h.cmdStart)
	h.runner.Register("stop", "stop [n]", h.cmdStop)
	h.runner.Register("wait", "wait n on|off", h.cmdWait)
	h.runner.Register("hang", "hang n [on|off]", h.cmdHang)
	h.runner.Register("online", "online n on|off", h.cmdOnline)
	h.runner.Register("watchdog", "watchdog [interval]", h.cmdWatchdog)
	h.runner.Register("loglevel", "loglevel debug|info|warn|error", h.cmdLogLevel)
}

func (h *Host) cmdQuit(ctx context.Context, args []string, out io.Writer) error {
	mode := lifecycle.ModeGraceful
	switch {
	case len(args) == 0:
	case len(args) == 1 && strings.EqualFold(args[0], "force"):
		mode = lifecycle.ModeImmediate
	default:
		return runner.ErrUsage
	}
	h.shutdownAsync(mode, lifecycle.ExplicitQuit())
	fmt.Fprintf(out, "%s shutdown requested\n", mode)
	return nil
}

func (h *Host) cmdExit(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 0 {
		return runner.ErrUsage
	}
	return h.cmdQuit(ctx, nil, out)
}

func (h *Host) cmdStatus(ctx context.Context, args []string, out io.Writer) error {
	phase := h.pc.Phase()
	if t, ok := h.coord.Trigger(); ok {
		fmt.Fprintf(out, "phase: %s (%s)\n", phase, t)
	} else {
		fmt.Fprintf(out, "phase: %s\n", phase)
	}

	st := h.monitor.Stats()
	fmt.Fprintf(out, "watchdog: interval=%s ticks=%d stalls=%d escalations=%d handled=%d\n",
		h.pc.WatchdogInterval(), st.Ticks, st.Stalls, st.Escalations, st.Handled)

	for _, e := range h.engines.Snapshot() {
		fmt.Fprintf(out, "engine %d: %s count=%d checks=%d tid=%d\n",
			e.Index, engineFlags(e.Online, e.Started, e.Waiting, e.Hung), e.InstructionCount, e.MachineChecks, e.ThreadID)
	}
	for _, w := range h.launcher.Workers() {
		fmt.Fprintf(out, "worker %s: tid=%d prio=%d %s\n", w.Name, w.ThreadID, w.Priority, w.Policy)
	}
	if dropped := h.router.Dropped(); dropped > 0 {
		fmt.Fprintf(out, "notifications dropped: %d\n", dropped)
	}
	if p := h.opts.pump; p != nil && p.Dropped() > 0 {
		fmt.Fprintf(out, "log lines dropped: %d\n", p.Dropped())
	}
	return nil
}

func engineFlags(online, started, waiting, hung bool) string {
	var flags []string
	if online {
		flags = append(flags, "online")
	} else {
		flags = append(flags, "offline")
	}
	if started {
		flags = append(flags, "started")
	} else {
		flags = append(flags, "stopped")
	}
	if waiting {
		flags = append(flags, "waiting")
	}
	if hung {
		flags = append(flags, "hung")
	}
	return strings.Join(flags, ",")
}

func (h *Host) cmdStart(ctx context.Context, args []string, out io.Writer) error {
	return h.eachEngine(args, out, "started", func(idx int) error {
		if !h.engines.Sample(idx).Online && len(args) == 0 {
			return nil
		}
		return h.engines.Start(idx)
	})
}

func (h *Host) cmdStop(ctx context.Context, args []string, out io.Writer) error {
	return h.eachEngine(args, out, "stopping", h.engines.Stop)
}

// eachEngine applies fn to the engine named in args, or to every engine
// when args is empty.
func (h *Host) eachEngine(args []string, out io.Writer, verb string, fn func(idx int) error) error {
	switch len(args) {
	case 0:
		for idx := 0; idx < h.engines.NumEngines(); idx++ {
			if err := fn(idx); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "all engines %s\n", verb)
		return nil
	case 1:
		idx, err := engineIndex(args[0])
		if err != nil {
			return err
		}
		if err := fn(idx); err != nil {
			return err
		}
		fmt.Fprintf(out, "engine %d %s\n", idx, verb)
		return nil
	default:
		return runner.ErrUsage
	}
}

func (h *Host) cmdWait(ctx context.Context, args []string, out io.Writer) error {
	idx, on, err := engineSwitch(args, false)
	if err != nil {
		return err
	}
	return h.engines.SetWaiting(idx, on)
}

func (h *Host) cmdHang(ctx context.Context, args []string, out io.Writer) error {
	idx, on, err := engineSwitch(args, true)
	if err != nil {
		return err
	}
	if err := h.engines.SetHung(idx, on); err != nil {
		return err
	}
	if on {
		fmt.Fprintf(out, "engine %d hung\n", idx)
	}
	return nil
}

func (h *Host) cmdOnline(ctx context.Context, args []string, out io.Writer) error {
	idx, on, err := engineSwitch(args, false)
	if err != nil {
		return err
	}
	return h.engines.SetOnline(idx, on)
}

func (h *Host) cmdWatchdog(ctx context.Context, args []string, out io.Writer) error {
	switch len(args) {
	case 0:
		st := h.monitor.Stats()
		fmt.Fprintf(out, "interval=%s ticks=%d stalls=%d escalations=%d handled=%d\n",
			h.pc.WatchdogInterval(), st.Ticks, st.Stalls, st.Escalations, st.Handled)
		return nil
	case 1:
		d, err := time.ParseDuration(args[0])
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: interval must be a positive duration", runner.ErrUsage)
		}
		h.pc.SetWatchdogInterval(d)
		fmt.Fprintf(out, "watchdog interval %s\n", d)
		return nil
	default:
		return runner.ErrUsage
	}
}

func (h *Host) cmdLogLevel(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return runner.ErrUsage
	}
	set := h.opts.levelSetter
	if set == nil {
		set = cliconfig.SetLevel
	}
	if err := set(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "log level %s\n", strings.ToLower(args[0]))
	return nil
}

func engineIndex(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: bad engine number %q", runner.ErrUsage, s)
	}
	return idx, nil
}

// engineSwitch parses "n on|off". With optional set, "n" alone means on.
func engineSwitch(args []string, optional bool) (int, bool, error) {
	if len(args) == 0 || len(args) > 2 || (len(args) == 1 && !optional) {
		return 0, false, runner.ErrUsage
	}
	idx, err := engineIndex(args[0])
	if err != nil {
		return 0, false, err
	}
	if len(args) == 1 {
		return idx, true, nil
	}
	switch strings.ToLower(args[1]) {
	case "on":
		return idx, true, nil
	case "off":
		return idx, false, nil
	default:
		return 0, false, fmt.Errorf("%w: want on or off, got %q", runner.ErrUsage, args[1])
	}
}
