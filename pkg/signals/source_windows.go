//go:build windows

package signals

import (
	"os"
	"syscall"
)

func handledSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// The runtime reports CTRL_CLOSE, CTRL_LOGOFF and CTRL_SHUTDOWN as SIGTERM,
// all of which leave only a few seconds before the process is killed.
func (s *Source) classify(sig os.Signal) (Notification, bool) {
	switch sig {
	case os.Interrupt:
		return Notification{Kind: Interrupt, Origin: s.state.ConsoleThread()}, true
	case syscall.SIGTERM:
		return Notification{Kind: PlatformClose, Reason: "console close or session end"}, true
	default:
		return Notification{}, false
	}
}
