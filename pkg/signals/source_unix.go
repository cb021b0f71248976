//go:build !windows

package signals

import (
	"os"
	"syscall"
)

func handledSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}

// The interrupt key is addressed to the console and a termination request
// to the process's main thread.
func (s *Source) classify(sig os.Signal) (Notification, bool) {
	switch sig {
	case os.Interrupt:
		return Notification{Kind: Interrupt, Origin: s.state.ConsoleThread()}, true
	case syscall.SIGTERM:
		return Notification{Kind: Terminate, Origin: s.state.MainThread()}, true
	case syscall.SIGHUP:
		return Notification{Kind: PlatformClose, Reason: "hangup"}, true
	default:
		return Notification{}, false
	}
}
