package bus

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/mcubus/frame"
	"github.com/ardnew/mcubus/pkg"
	"github.com/ardnew/mcubus/transport"
)

// deliveredTTL bounds how long a frame that arrived with no matching
// waiter is kept around before the reaper discards it as stale.
const deliveredTTL = 10 * time.Second

// waiter is a blocked caller of [Bus.SendRequest] or [Bus.Ping].
type waiter struct {
	kind  frame.Kind
	match func(frame.Frame) bool
	ch    chan frame.Frame
}

// delivered is a *Detected frame that arrived with no waiter to claim it
// yet.
type delivered struct {
	kind  frame.Kind
	frame frame.Frame
	at    time.Time
}

// Bus is one coprocessor bus: a transport, a receive [receiver], the
// devices attached to it, and the bookkeeping needed to correlate
// responses and pongs with the callers blocked waiting for them.
//
// All frame decoding and driver dispatch for a Bus happens on its
// [Registry]'s single worker goroutine; Bus's own exported methods are
// safe to call from any goroutine.
type Bus struct {
	id        int
	transport transport.Transport
	receiver  receiver
	queue     *Queue
	lateInit  func(*Bus) error

	mu        sync.Mutex
	devices   map[byte]*Device
	waiters   []*waiter
	delivered []delivered

	writeMu sync.Mutex
}

func newBus(id int, t transport.Transport, q *Queue, lateInit func(*Bus) error) *Bus {
	return &Bus{
		id:        id,
		transport: t,
		queue:     q,
		lateInit:  lateInit,
		devices:   make(map[byte]*Device),
	}
}

// ID returns the bus's registry-assigned identifier.
func (b *Bus) ID() int { return b.id }

// Deliver implements [transport.Sink]. It is called by the bus's
// transport whenever bytes arrive from the peer.
func (b *Bus) Deliver(data []byte) {
	n := b.receiver.Append(data)
	if n < len(data) {
		pkg.LogWarn(pkg.ComponentReceiver, "receive buffer full, bytes dropped",
			"bus", b.id, "dropped", len(data)-n)
	}
	b.queue.Push(Event{Kind: DataReceived, BusID: b.id})
}

// NotifyWriteComplete implements [transport.Sink].
func (b *Bus) NotifyWriteComplete() {
	b.queue.Push(Event{Kind: WriteComplete, BusID: b.id})
}

// AddDevice registers a device with the given device_id on the bus and
// binds it to the named driver. It returns [pkg.ErrDuplicateDeviceID] if
// device_id is already registered, or [pkg.ErrNoDriverBound] if no
// driver with that name is known to the bus's registry.
func (b *Bus) AddDevice(deviceID byte, name string, findDriver func(string) (Driver, bool)) (*Device, error) {
	b.mu.Lock()
	if _, exists := b.devices[deviceID]; exists {
		b.mu.Unlock()
		return nil, pkg.ErrDuplicateDeviceID
	}
	b.mu.Unlock()

	drv, ok := findDriver(name)
	if !ok {
		return nil, pkg.ErrNoDriverBound
	}

	dev := &Device{id: deviceID, bus: b, name: name, driver: drv}
	if err := drv.Probe(dev); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.devices[deviceID] = dev
	b.mu.Unlock()

	pkg.LogInfo(pkg.ComponentBus, "device bound", "bus", b.id, "device_id", deviceID, "driver", name)
	return dev, nil
}

// RemoveDevice unbinds and forgets the device with the given device_id.
func (b *Bus) RemoveDevice(deviceID byte) error {
	b.mu.Lock()
	dev, ok := b.devices[deviceID]
	if !ok {
		b.mu.Unlock()
		return pkg.ErrUnknownDevice
	}
	delete(b.devices, deviceID)
	b.mu.Unlock()

	if dev.driver != nil {
		return dev.driver.Remove(dev)
	}
	return nil
}

// bindUnbound probes drv against every device on b that has no driver
// bound and whose name appears in drv's name table. It implements late
// binding for devices that [Bus.unbindDriver] released. [Bus.AddDevice]
// never adds a device without a driver, so released devices are the
// only unbound ones this scan can find.
func (b *Bus) bindUnbound(drv Driver) {
	b.mu.Lock()
	var candidates []*Device
	for _, dev := range b.devices {
		if dev.driver == nil && driverHasName(drv, dev.name) {
			candidates = append(candidates, dev)
		}
	}
	b.mu.Unlock()

	for _, dev := range candidates {
		if err := drv.Probe(dev); err != nil {
			pkg.LogWarn(pkg.ComponentBus, "late bind probe failed",
				"bus", b.id, "device_id", dev.id, "error", err)
			continue
		}
		b.mu.Lock()
		dev.driver = drv
		b.mu.Unlock()
		pkg.LogInfo(pkg.ComponentBus, "device late-bound",
			"bus", b.id, "device_id", dev.id, "driver", dev.name)
	}
}

// unbindDriver releases drv from every device on b currently bound to
// it, invoking the driver's remove hook, but leaves the devices
// themselves registered on the bus.
func (b *Bus) unbindDriver(drv Driver) {
	b.mu.Lock()
	var bound []*Device
	for _, dev := range b.devices {
		if dev.driver == drv {
			bound = append(bound, dev)
		}
	}
	b.mu.Unlock()

	for _, dev := range bound {
		if err := drv.Remove(dev); err != nil {
			pkg.LogWarn(pkg.ComponentBus, "driver remove hook failed",
				"bus", b.id, "device_id", dev.id, "error", err)
		}
		b.mu.Lock()
		dev.driver = nil
		b.mu.Unlock()
	}
}

// removeAllDevices unbinds and forgets every device on b, invoking each
// bound driver's remove hook. It is used by [Registry.RemoveBus], which
// must release a bus's devices before releasing the bus itself.
func (b *Bus) removeAllDevices() {
	b.mu.Lock()
	ids := make([]byte, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		if err := b.RemoveDevice(id); err != nil {
			pkg.LogWarn(pkg.ComponentBus, "failed to remove device while removing bus",
				"bus", b.id, "device_id", id, "error", err)
		}
	}
}

// Device returns the device registered with the given device_id, or nil.
func (b *Bus) Device(deviceID byte) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[deviceID]
}

// Respond sends a control response addressed to deviceID.
func (b *Bus) Respond(deviceID, controlCode byte, detail []byte) error {
	return b.writeFrame(frame.Frame{
		Kind:    frame.KindResponse,
		Payload: frame.NewControlPayload(deviceID, controlCode, detail),
	})
}

// RespondError sends a control response carrying the peer-error
// sentinel, terminating the host's oldest outstanding request.
func (b *Bus) RespondError(errCode byte) error {
	return b.writeFrame(frame.Frame{
		Kind:    frame.KindResponse,
		Payload: frame.NewErrorPayload(errCode),
	})
}

func (b *Bus) writeFrame(fr frame.Frame) error {
	wire, err := frame.Encode(fr)
	if err != nil {
		return err
	}
	return b.writeWire(wire)
}

// writeWire serializes writes to the transport: concurrent SendRequest
// and Ping callers on the same bus must never have their frames'
// bytes interleaved on the wire.
func (b *Bus) writeWire(wire []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	n, err := b.transport.Write(wire)
	if err != nil {
		return pkg.ErrTransportFailed
	}
	if n < len(wire) {
		return pkg.ErrTransportFailed
	}
	return nil
}

// SendRequest sends a control request to deviceID and blocks until a
// matching response arrives, timeout elapses, or ctx is cancelled. On
// success it returns the response detail bytes. If the peer answers with
// the reserved error sentinel, it returns a *[pkg.PeerError].
func (b *Bus) SendRequest(ctx context.Context, deviceID, controlCode byte, detail []byte, timeout time.Duration) ([]byte, error) {
	fr := frame.Frame{
		Kind:    frame.KindRequest,
		Payload: frame.NewControlPayload(deviceID, controlCode, detail),
	}

	match := func(resp frame.Frame) bool {
		var m frame.ControlMessage
		if err := frame.ParseControlMessage(resp.Payload, &m); err != nil {
			return false
		}
		if m.IsError() {
			return true
		}
		return m.DeviceID == deviceID && m.ControlCode == controlCode
	}

	fr2, err := b.wait(ctx, frame.KindResponse, match, fr, timeout)
	if err != nil {
		return nil, err
	}

	var m frame.ControlMessage
	if err := frame.ParseControlMessage(fr2.Payload, &m); err != nil {
		return nil, err
	}
	if m.IsError() {
		return nil, &pkg.PeerError{Code: m.ControlCode}
	}
	return m.Detail, nil
}

// Ping sends a ping and blocks until a pong arrives, timeout elapses, or
// ctx is cancelled.
func (b *Bus) Ping(ctx context.Context, timeout time.Duration) error {
	match := func(frame.Frame) bool { return true }
	_, err := b.wait(ctx, frame.KindPong, match, frame.Frame{Kind: frame.KindPing}, timeout)
	return err
}

func (b *Bus) wait(ctx context.Context, wantKind frame.Kind, match func(frame.Frame) bool, req frame.Frame, timeout time.Duration) (frame.Frame, error) {
	wire, err := frame.Encode(req)
	if err != nil {
		return frame.Frame{}, err
	}

	w := &waiter{kind: wantKind, match: match, ch: make(chan frame.Frame, 1)}

	b.mu.Lock()
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	if err := b.writeWire(wire); err != nil {
		b.removeWaiter(w)
		return frame.Frame{}, err
	}

	// The request/ping is now on the wire. Only now may a pre-existing
	// delivered frame be claimed -- never before the send, or a stale
	// delivered entry could make SendRequest/Ping "succeed" without
	// ever transmitting anything.
	b.mu.Lock()
	if fr, ok := b.popDelivered(wantKind, match); ok {
		b.removeWaiterLocked(w)
		b.mu.Unlock()
		return fr, nil
	}
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case fr := <-w.ch:
		return fr, nil
	case <-ctx.Done():
		b.removeWaiter(w)
		return frame.Frame{}, pkg.ErrCancelled
	case <-timer.C:
		b.removeWaiter(w)
		return frame.Frame{}, pkg.ErrTimeout
	}
}

// popDelivered must be called with b.mu held.
func (b *Bus) popDelivered(kind frame.Kind, match func(frame.Frame) bool) (frame.Frame, bool) {
	for i, d := range b.delivered {
		if d.kind != kind || !match(d.frame) {
			continue
		}
		b.delivered = append(b.delivered[:i], b.delivered[i+1:]...)
		return d.frame, true
	}
	return frame.Frame{}, false
}

func (b *Bus) removeWaiter(target *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeWaiterLocked(target)
}

// removeWaiterLocked must be called with b.mu held.
func (b *Bus) removeWaiterLocked(target *waiter) {
	for i, w := range b.waiters {
		if w == target {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// dispatchDetected runs on the registry worker when a pong or response
// frame is decoded. It hands the frame to the oldest waiter whose
// predicate accepts it, or parks it on the delivered queue.
func (b *Bus) dispatchDetected(kind frame.Kind, fr frame.Frame) {
	b.mu.Lock()
	for i, w := range b.waiters {
		if w.kind != kind || !w.match(fr) {
			continue
		}
		b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
		b.mu.Unlock()
		w.ch <- fr
		return
	}
	b.delivered = append(b.delivered, delivered{kind: kind, frame: fr, at: time.Now()})
	b.mu.Unlock()
}

// reapDelivered discards delivered entries older than deliveredTTL.
func (b *Bus) reapDelivered() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-deliveredTTL)
	fresh := b.delivered[:0]
	for _, d := range b.delivered {
		if d.at.After(cutoff) {
			fresh = append(fresh, d)
		}
	}
	b.delivered = fresh
}
