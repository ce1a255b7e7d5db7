package pipe

import (
	"context"
	"sync"

	"github.com/ardnew/mcubus/pkg"
	"github.com/ardnew/mcubus/transport"
)

// queueDepth bounds how many in-flight writes a Pipe buffers before Write
// blocks the caller.
const queueDepth = 64

// Pipe is one end of an in-memory, back-to-back transport pair created by
// [NewPair].
type Pipe struct {
	peer *Pipe
	out  chan []byte

	mutex   sync.RWMutex
	running bool
	sink    transport.Sink

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPair returns two connected Pipes: bytes written to one are
// delivered to the other's [transport.Sink], and vice versa.
func NewPair() (*Pipe, *Pipe) {
	a := &Pipe{out: make(chan []byte, queueDepth), closeCh: make(chan struct{})}
	b := &Pipe{out: make(chan []byte, queueDepth), closeCh: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Start implements [transport.Transport].
func (p *Pipe) Start(ctx context.Context, sink transport.Sink) error {
	p.mutex.Lock()
	if p.running {
		p.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	p.sink = sink
	p.running = true
	p.mutex.Unlock()

	p.wg.Add(1)
	go p.pump(ctx)
	return nil
}

func (p *Pipe) pump(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closeCh:
			return
		case data := <-p.out:
			p.mutex.RLock()
			sink := p.sink
			p.mutex.RUnlock()
			if sink != nil {
				sink.Deliver(data)
			}
		}
	}
}

// Write implements [transport.Transport]. It hands data to the peer's
// Sink and immediately reports write completion, since an in-memory
// queue never needs to flush asynchronously.
func (p *Pipe) Write(data []byte) (int, error) {
	p.mutex.RLock()
	running := p.running
	sink := p.sink
	p.mutex.RUnlock()
	if !running {
		return 0, pkg.ErrNotRunning
	}

	buf := append([]byte(nil), data...)
	select {
	case p.peer.out <- buf:
	case <-p.closeCh:
		return 0, pkg.ErrCancelled
	}

	if sink != nil {
		sink.NotifyWriteComplete()
	}
	return len(data), nil
}

// Stop implements [transport.Transport]. It is idempotent.
func (p *Pipe) Stop() error {
	p.mutex.Lock()
	if !p.running {
		p.mutex.Unlock()
		return nil
	}
	p.running = false
	p.mutex.Unlock()

	p.closeOnce.Do(func() { close(p.closeCh) })
	p.wg.Wait()
	return nil
}

var _ transport.Transport = (*Pipe)(nil)
