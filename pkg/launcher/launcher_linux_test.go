//go:build linux

package launcher

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
)

// threadPriority reads the raw kernel priority of the calling thread.
func threadPriority(t *testing.T) int {
	t.Helper()
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, unix.Gettid())
	if err != nil {
		t.Fatalf("Getpriority() = %v", err)
	}
	return prio
}

func TestLauncher_WorkerPriorityStaysWithWorker(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	runtime.LockOSThread()
	base := threadPriority(t)
	runtime.UnlockOSThread()

	// Raw kernel priority is 20 - nice.
	nice := 20 - base + 5
	if nice > 19 {
		t.Skip("process already runs at the lowest priority")
	}

	l := New(lifecycle.NewProcessControl(time.Second))
	for i := 0; i < 5; i++ {
		h, err := l.Launch(context.Background(), Task{
			Name:     "short",
			Priority: nice,
			Body:     func(ctx context.Context) error { return nil },
		})
		if err != nil {
			t.Fatalf("Launch() = %v", err)
		}
		<-h.Done()
	}

	var (
		mu     sync.Mutex
		leaked int
		wg     sync.WaitGroup
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.Gosched()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			prio, err := unix.Getpriority(unix.PRIO_PROCESS, unix.Gettid())
			if err == nil && prio != base {
				mu.Lock()
				leaked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if leaked != 0 {
		t.Errorf("%d/200 goroutines ran on a thread left at worker priority", leaked)
	}
}
