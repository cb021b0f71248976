package hostinfo

import (
	"os"

	"github.com/mattn/go-isatty"

	"github.com/bft-labs/enginehost/pkg/log"
)

// Keepalive is how much TCP keep-alive tuning the platform honours.
type Keepalive int

const (
	KeepaliveNone Keepalive = iota
	KeepaliveBasic
	KeepalivePartial
	KeepaliveFull
)

// String returns a human-readable representation of the level.
func (k Keepalive) String() string {
	switch k {
	case KeepaliveBasic:
		return "basic"
	case KeepalivePartial:
		return "partial"
	case KeepaliveFull:
		return "full"
	default:
		return "none"
	}
}

// Info describes the capabilities of the host the process runs on.
type Info struct {
	// Daemon is true when neither stdout nor stderr is a terminal.
	Daemon     bool
	Privileged bool
	Keepalive  Keepalive
}

// Detect probes the current process and platform.
func Detect() Info {
	return Info{
		Daemon:     !isTerminal(os.Stdout.Fd()) && !isTerminal(os.Stderr.Fd()),
		Privileged: privileged(),
		Keepalive:  probeKeepalive(),
	}
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Report logs the detected capabilities, warning about degraded ones.
func (i Info) Report(logger log.Logger) {
	logger = log.OrNoop(logger)
	logger.Info("host capabilities",
		log.Bool("daemon", i.Daemon),
		log.Bool("privileged", i.Privileged),
		log.String("tcp_keepalive", i.Keepalive.String()),
	)
	switch i.Keepalive {
	case KeepalivePartial:
		logger.Warn("not all TCP keepalive settings honored")
	case KeepaliveBasic:
		logger.Warn("basic TCP keepalive only, idle and interval settings unsupported")
	case KeepaliveNone:
		logger.Warn("TCP keepalive not supported")
	}
}
