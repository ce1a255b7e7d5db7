package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/mcubus/frame"
	"github.com/ardnew/mcubus/transport"
)

var errFakeWriteFailed = errors.New("fake transport write failed")

// fakeTransport records writes without delivering them anywhere; tests
// drive Bus directly via Deliver to control exactly when frames appear.
type fakeTransport struct {
	mu            sync.Mutex
	writes        [][]byte
	failNextWrite bool
}

func (f *fakeTransport) Start(context.Context, transport.Sink) error {
	return nil
}
func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextWrite {
		f.failNextWrite = false
		return 0, errFakeWriteFailed
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}
func (f *fakeTransport) Stop() error { return nil }

func newTestBus() (*Bus, *fakeTransport) {
	ft := &fakeTransport{}
	q := NewQueue()
	return newBus(1, ft, q, nil), ft
}

func TestBusAddDeviceDuplicateRejected(t *testing.T) {
	b, _ := newTestBus()
	find := func(string) (Driver, bool) { return &echoDriver{name: "d"}, true }

	if _, err := b.AddDevice(0x01, "d", find); err != nil {
		t.Fatalf("first AddDevice: %v", err)
	}
	if _, err := b.AddDevice(0x01, "d", find); err == nil {
		t.Fatal("expected duplicate device error")
	}
}

func TestBusAddDeviceUnknownDriver(t *testing.T) {
	b, _ := newTestBus()
	find := func(string) (Driver, bool) { return nil, false }

	if _, err := b.AddDevice(0x01, "missing", find); err == nil {
		t.Fatal("expected no-driver error")
	}
}

func TestBusRemoveUnknownDevice(t *testing.T) {
	b, _ := newTestBus()
	if err := b.RemoveDevice(0x42); err == nil {
		t.Fatal("expected unknown device error")
	}
}

func TestBusRespondEncodesControlFrame(t *testing.T) {
	b, ft := newTestBus()
	if err := b.Respond(0x03, 0x07, []byte("ok")); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(ft.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(ft.writes))
	}
	frame.Deobfuscate(ft.writes[0])
	fr, _, ok := frame.Decode(ft.writes[0])
	if !ok || fr.Kind != frame.KindResponse {
		t.Fatalf("decoded frame = %+v, ok=%v", fr, ok)
	}
}

func TestBusDispatchDetectedDeliversToWaiter(t *testing.T) {
	b, _ := newTestBus()

	w := &waiter{kind: frame.KindPong, match: func(frame.Frame) bool { return true }, ch: make(chan frame.Frame, 1)}
	b.mu.Lock()
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	b.dispatchDetected(frame.KindPong, frame.Frame{Kind: frame.KindPong})

	select {
	case <-w.ch:
	case <-time.After(time.Second):
		t.Fatal("waiter never received the frame")
	}
}

func TestBusDispatchDetectedParksWithNoWaiter(t *testing.T) {
	b, _ := newTestBus()
	b.dispatchDetected(frame.KindPong, frame.Frame{Kind: frame.KindPong})

	b.mu.Lock()
	n := len(b.delivered)
	b.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 parked frame, got %d", n)
	}
}

func TestBusWaitClaimsAlreadyDeliveredFrameOnlyAfterSending(t *testing.T) {
	b, ft := newTestBus()
	b.dispatchDetected(frame.KindPong, frame.Frame{Kind: frame.KindPong})

	ctx := context.Background()
	_, err := b.wait(ctx, frame.KindPong, func(frame.Frame) bool { return true }, frame.Frame{Kind: frame.KindPing}, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	if len(ft.writes) != 1 {
		t.Fatalf("expected wait to transmit the ping before claiming the stale delivered frame, got %d writes", len(ft.writes))
	}
	frame.Deobfuscate(ft.writes[0])
	fr, _, ok := frame.Decode(ft.writes[0])
	if !ok || fr.Kind != frame.KindPing {
		t.Fatalf("decoded frame = %+v, ok=%v, want a transmitted ping", fr, ok)
	}
}

func TestBusWaitNeverSucceedsWithoutSending(t *testing.T) {
	b, ft := newTestBus()
	ft.mu.Lock()
	ft.failNextWrite = true
	ft.mu.Unlock()

	// Park a frame that would satisfy an unconditional match, then force
	// the write to fail. wait must surface the write error, never the
	// stale delivered frame -- a caller can only "succeed" after its
	// request actually reached the wire.
	b.dispatchDetected(frame.KindPong, frame.Frame{Kind: frame.KindPong})

	ctx := context.Background()
	_, err := b.wait(ctx, frame.KindPong, func(frame.Frame) bool { return true }, frame.Frame{Kind: frame.KindPing}, time.Second)
	if err == nil {
		t.Fatal("expected wait to fail when the write fails, not silently claim a stale delivered frame")
	}
	if len(ft.writes) != 0 {
		t.Fatalf("expected no writes to be recorded, got %d", len(ft.writes))
	}
}

func TestBusReapDeliveredDropsStaleEntries(t *testing.T) {
	b, _ := newTestBus()
	b.mu.Lock()
	b.delivered = append(b.delivered, delivered{
		kind:  frame.KindPong,
		frame: frame.Frame{Kind: frame.KindPong},
		at:    time.Now().Add(-2 * deliveredTTL),
	})
	b.mu.Unlock()

	b.reapDelivered()

	b.mu.Lock()
	n := len(b.delivered)
	b.mu.Unlock()
	if n != 0 {
		t.Errorf("expected stale entry to be reaped, got %d remaining", n)
	}
}
