package logpump

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of log lines buffered between the logger
// and the callbacks.
const DefaultQueueSize = 1024

// Callback receives one formatted log line per call. After the pump
// closes, every callback gets a final nil message.
type Callback func(msg []byte)

// Pump is an io.Writer that hands log lines to callbacks on a separate
// worker. Writes never block the logger: when the queue is full the line
// is dropped and counted.
type Pump struct {
	queue chan []byte

	mu     sync.RWMutex
	closed bool

	cbMu      sync.Mutex
	callbacks map[int]Callback
	nextID    int

	dropped   atomic.Uint64
	delivered atomic.Uint64
	done      chan struct{}
}

// New creates a pump. A non-positive size selects DefaultQueueSize.
func New(size int) *Pump {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Pump{
		queue:     make(chan []byte, size),
		callbacks: make(map[int]Callback),
		done:      make(chan struct{}),
	}
}

var _ io.Writer = (*Pump)(nil)

// Write queues a copy of b. It always reports success.
func (p *Pump) Write(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return len(b), nil
	}
	msg := make([]byte, len(b))
	copy(msg, b)
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
	}
	return len(b), nil
}

// Subscribe registers cb and returns a function that removes it.
func (p *Pump) Subscribe(cb Callback) (unsubscribe func()) {
	p.cbMu.Lock()
	id := p.nextID
	p.nextID++
	p.callbacks[id] = cb
	p.cbMu.Unlock()

	return func() {
		p.cbMu.Lock()
		delete(p.callbacks, id)
		p.cbMu.Unlock()
	}
}

// Run delivers queued lines until Close, then drains what is left and
// sends the final nil message. If ctx ends first the remaining lines are
// discarded but the final message is still sent.
func (p *Pump) Run(ctx context.Context) error {
	defer close(p.done)
	for {
		select {
		case msg, ok := <-p.queue:
			if !ok {
				p.dispatch(nil)
				return nil
			}
			p.dispatch(msg)
			p.delivered.Add(1)
		case <-ctx.Done():
			p.dispatch(nil)
			return nil
		}
	}
}

func (p *Pump) dispatch(msg []byte) {
	p.cbMu.Lock()
	cbs := make([]Callback, 0, len(p.callbacks))
	for _, cb := range p.callbacks {
		cbs = append(cbs, cb)
	}
	p.cbMu.Unlock()

	for _, cb := range cbs {
		cb(msg)
	}
}

// Close stops accepting lines. Run finishes once the queue is drained.
func (p *Pump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.queue)
	return nil
}

// Done is closed when Run returns.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Dropped returns the number of lines lost to a full queue or a closed
// pump.
func (p *Pump) Dropped() uint64 {
	return p.dropped.Load()
}

// Delivered returns the number of lines handed to callbacks.
func (p *Pump) Delivered() uint64 {
	return p.delivered.Load()
}

// MirrorTo returns a callback that copies every line to w. The final nil
// message is ignored; the caller owns w.
func MirrorTo(w io.Writer) Callback {
	return func(msg []byte) {
		if msg != nil {
			_, _ = w.Write(msg)
		}
	}
}
