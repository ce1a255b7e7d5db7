package bus

import (
	"context"
	"sync"

	"github.com/gammazero/deque"

	"github.com/ardnew/mcubus/frame"
)

// Kind identifies what kind of work an Event represents.
type Kind int

// Event kinds, mirroring the coprocessor's own work-queue vocabulary.
const (
	DataReceived Kind = iota
	WriteComplete
	PingDetected
	PongDetected
	RequestDetected
	ResponseDetected
	LateInit
)

// String returns a short name for k, used in log output.
func (k Kind) String() string {
	switch k {
	case DataReceived:
		return "data_received"
	case WriteComplete:
		return "write_complete"
	case PingDetected:
		return "ping_detected"
	case PongDetected:
		return "pong_detected"
	case RequestDetected:
		return "request_detected"
	case ResponseDetected:
		return "response_detected"
	case LateInit:
		return "late_init"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the registry's worker. Frame is non-nil
// only for the four *Detected kinds.
type Event struct {
	Kind  Kind
	BusID int
	Frame *frame.Frame
}

// Queue is the single global FIFO drained by the registry's worker.
// Producers -- transport read goroutines, the worker itself when it
// turns a DataReceived into zero or more *Detected events -- push onto
// the back; the worker pops from the front.
//
// Consecutive object-less events (DataReceived, WriteComplete, LateInit)
// for the same bus are coalesced: if the most recently queued
// object-less event for that bus already has the kind being pushed, the
// push is dropped rather than piling up redundant wakeups. Frame-carrying
// events queued after it do not prevent the match. Events carrying a decoded frame are
// never coalesced, since each one represents data that would otherwise
// be lost.
type Queue struct {
	mu       sync.Mutex
	dq       deque.Deque[Event]
	notifyCh chan struct{}
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{notifyCh: make(chan struct{}, 1)}
}

func (q *Queue) notify() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

// Push enqueues e, applying the coalescing rule described on [Queue].
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.Frame == nil {
		for i := q.dq.Len() - 1; i >= 0; i-- {
			existing := q.dq.At(i)
			if existing.BusID != e.BusID || existing.Frame != nil {
				continue
			}
			if existing.Kind == e.Kind {
				return
			}
			break
		}
	}

	q.dq.PushBack(e)
	q.notify()
}

// Pop removes and returns the front event, or reports ok=false if the
// queue is empty.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dq.Len() == 0 {
		return Event{}, false
	}
	return q.dq.PopFront(), true
}

// Len reports the number of events currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dq.Len()
}

// Wait blocks until Push has been called at least once since the last
// Wait returned, or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.notifyCh:
		return nil
	}
}
