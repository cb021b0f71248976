//go:build !linux

package launcher

import (
	"sync/atomic"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
)

var nextThreadID atomic.Uint64

func currentThreadID() lifecycle.ThreadID {
	return lifecycle.ThreadID(nextThreadID.Add(1))
}

// Per-thread priorities are not applied on this platform.
func setThreadPriority(tid lifecycle.ThreadID, prio int) error {
	return nil
}
