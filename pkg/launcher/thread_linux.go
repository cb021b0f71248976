//go:build linux

package launcher

import (
	"golang.org/x/sys/unix"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
)

func currentThreadID() lifecycle.ThreadID {
	return lifecycle.ThreadID(unix.Gettid())
}

// On linux each thread has its own nice value, addressed by tid.
func setThreadPriority(tid lifecycle.ThreadID, prio int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, int(tid), prio)
}
