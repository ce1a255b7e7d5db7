package bus

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/mcubus/frame"
	"github.com/ardnew/mcubus/pkg"
	"github.com/ardnew/mcubus/transport"
)

// reapInterval is how often the registry sweeps every bus's delivered
// queue for stale entries.
const reapInterval = time.Second

// BusOption configures a bus at registration time.
type BusOption func(*Bus)

// WithLateInit arranges for fn to run once, on the worker goroutine,
// immediately after the bus is registered.
func WithLateInit(fn func(*Bus) error) BusOption {
	return func(b *Bus) { b.lateInit = fn }
}

// Registry owns the single event [Queue], the worker and reaper
// goroutines that drain it, and every [Bus] and [Driver] known to this
// process.
//
// Lock order when both are needed: Registry.mu before Bus.mu. The Queue
// has its own private lock and is never held while calling back into
// Registry or Bus code.
type Registry struct {
	mu      sync.Mutex
	buses   map[int]*Bus
	freeIDs []int
	nextID  int

	// drivers preserves registration order: AddDevice tries drivers in
	// this order and binds to the first whose name table contains the
	// device's name. The late-bind scan tries only the driver being
	// registered.
	drivers []Driver
	// byName indexes every name in every registered driver's table back
	// to that driver, for duplicate detection and UnregisterDriver.
	byName map[string]Driver

	queue *Queue

	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewRegistry returns an empty, unstarted Registry.
func NewRegistry() *Registry {
	return &Registry{
		buses:  make(map[int]*Bus),
		byName: make(map[string]Driver),
		queue:  NewQueue(),
	}
}

// Start launches the worker and reaper goroutines. ctx governs their
// lifetime in addition to [Registry.Stop].
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return pkg.ErrAlreadyRunning
	}

	cctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(cctx)
	r.cancel = cancel
	r.group = group
	r.running = true
	r.mu.Unlock()

	group.Go(func() error { return r.worker(gctx) })
	group.Go(func() error { return r.reaper(gctx) })

	pkg.LogInfo(pkg.ComponentEvent, "registry started")
	return nil
}

// Stop cancels the worker and reaper goroutines and waits for them to
// return. It is idempotent.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	group := r.group
	r.mu.Unlock()

	cancel()
	err := group.Wait()
	pkg.LogInfo(pkg.ComponentEvent, "registry stopped")
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// RegisterDriver makes drv available for device binding by every name in
// its table. It returns [pkg.ErrDuplicateDriver] if any of those names
// collides with an already-registered driver. Any device already
// attached to a bus that has no driver bound and whose name appears in
// drv's table is bound immediately (late binding), matching spec's
// "first driver whose name table contains the device's name wins" rule
// applied at registration time as well as at add-device time.
func (r *Registry) RegisterDriver(drv Driver) error {
	names := drv.Names()

	r.mu.Lock()
	for _, name := range names {
		if _, exists := r.byName[name]; exists {
			r.mu.Unlock()
			return pkg.ErrDuplicateDriver
		}
	}
	for _, name := range names {
		r.byName[name] = drv
	}
	r.drivers = append(r.drivers, drv)
	buses := make([]*Bus, 0, len(r.buses))
	for _, b := range r.buses {
		buses = append(buses, b)
	}
	r.mu.Unlock()

	for _, b := range buses {
		b.bindUnbound(drv)
	}
	return nil
}

// UnregisterDriver removes drv from the registry and unbinds it from
// every device currently bound to it across every bus, invoking each
// device's remove hook. The devices themselves are not torn down; they
// remain registered and become eligible for late binding by a
// subsequently registered driver whose name table claims them.
func (r *Registry) UnregisterDriver(name string) error {
	r.mu.Lock()
	drv, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return pkg.ErrUnknownDriver
	}
	for _, n := range drv.Names() {
		delete(r.byName, n)
	}
	for i, d := range r.drivers {
		if d == drv {
			r.drivers = append(r.drivers[:i], r.drivers[i+1:]...)
			break
		}
	}
	buses := make([]*Bus, 0, len(r.buses))
	for _, b := range r.buses {
		buses = append(buses, b)
	}
	r.mu.Unlock()

	for _, b := range buses {
		b.unbindDriver(drv)
	}
	pkg.LogInfo(pkg.ComponentBus, "driver unregistered", "driver", name)
	return nil
}

func (r *Registry) findDriver(name string) (Driver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, drv := range r.drivers {
		if driverHasName(drv, name) {
			return drv, true
		}
	}
	return nil, false
}

func (r *Registry) allocID() int {
	if n := len(r.freeIDs); n > 0 {
		id := r.freeIDs[n-1]
		r.freeIDs = r.freeIDs[:n-1]
		return id
	}
	id := r.nextID
	r.nextID++
	return id
}

// AddBus registers t as a new bus and starts delivering its inbound
// bytes. The registry must already be running.
func (r *Registry) AddBus(ctx context.Context, t transport.Transport, opts ...BusOption) (*Bus, error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil, pkg.ErrNotRunning
	}
	id := r.allocID()
	b := newBus(id, t, r.queue, nil)
	for _, opt := range opts {
		opt(b)
	}
	r.buses[id] = b
	r.mu.Unlock()

	if err := t.Start(ctx, b); err != nil {
		r.mu.Lock()
		delete(r.buses, id)
		r.freeIDs = append(r.freeIDs, id)
		r.mu.Unlock()
		return nil, err
	}

	if b.lateInit != nil {
		r.queue.Push(Event{Kind: LateInit, BusID: id})
	}

	pkg.LogInfo(pkg.ComponentBus, "bus registered", "bus", id)
	return b, nil
}

// RemoveBus removes every device bound to the bus, invoking each bound
// driver's remove hook, then stops the bus's transport and frees its id
// for reuse.
func (r *Registry) RemoveBus(id int) error {
	r.mu.Lock()
	b, ok := r.buses[id]
	if !ok {
		r.mu.Unlock()
		return pkg.ErrUnknownBus
	}
	r.mu.Unlock()

	b.removeAllDevices()

	r.mu.Lock()
	delete(r.buses, id)
	r.freeIDs = append(r.freeIDs, id)
	r.mu.Unlock()

	err := b.transport.Stop()
	pkg.LogInfo(pkg.ComponentBus, "bus removed", "bus", id)
	return err
}

// Bus returns the bus with the given id, or nil.
func (r *Registry) Bus(id int) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buses[id]
}

// AddDevice registers a device with the given device_id on b and binds
// it to the driver previously registered under name via
// [Registry.RegisterDriver].
func (r *Registry) AddDevice(b *Bus, deviceID byte, name string) (*Device, error) {
	return b.AddDevice(deviceID, name, r.findDriver)
}

func (r *Registry) worker(ctx context.Context) error {
	for {
		e, ok := r.queue.Pop()
		if !ok {
			if err := r.queue.Wait(ctx); err != nil {
				return nil
			}
			continue
		}
		r.handle(ctx, e)
	}
}

func (r *Registry) handle(_ context.Context, e Event) {
	r.mu.Lock()
	b := r.buses[e.BusID]
	r.mu.Unlock()
	if b == nil {
		return
	}

	switch e.Kind {
	case DataReceived:
		r.detectFrames(b)

	case WriteComplete:
		pkg.LogDebug(pkg.ComponentEvent, "write complete", "bus", b.id)

	case PingDetected:
		if err := b.writeFrame(frame.Frame{Kind: frame.KindPong}); err != nil {
			pkg.LogWarn(pkg.ComponentEvent, "failed to answer ping", "bus", b.id, "error", err)
		}

	case PongDetected:
		b.dispatchDetected(frame.KindPong, *e.Frame)

	case RequestDetected:
		r.handleRequest(b, *e.Frame)

	case ResponseDetected:
		b.dispatchDetected(frame.KindResponse, *e.Frame)

	case LateInit:
		if b.lateInit != nil {
			if err := b.lateInit(b); err != nil {
				pkg.LogWarn(pkg.ComponentEvent, "late init failed", "bus", b.id, "error", err)
			}
		}
	}
}

func (r *Registry) detectFrames(b *Bus) {
	for {
		fr, ok := b.receiver.Detect()
		if !ok {
			return
		}

		var kind Kind
		switch fr.Kind {
		case frame.KindPing:
			kind = PingDetected
		case frame.KindPong:
			kind = PongDetected
		case frame.KindRequest:
			kind = RequestDetected
		case frame.KindResponse:
			kind = ResponseDetected
		default:
			continue
		}

		frCopy := fr
		r.queue.Push(Event{Kind: kind, BusID: b.id, Frame: &frCopy})
	}
}

func (r *Registry) handleRequest(b *Bus, fr frame.Frame) {
	var m frame.ControlMessage
	if err := frame.ParseControlMessage(fr.Payload, &m); err != nil {
		pkg.LogWarn(pkg.ComponentEvent, "malformed request payload", "bus", b.id, "error", err)
		return
	}

	dev := b.Device(m.DeviceID)
	if dev == nil || dev.driver == nil {
		pkg.LogDebug(pkg.ComponentEvent, "request for unbound device",
			"bus", b.id, "device_id", m.DeviceID)
		return
	}

	dev.driver.Report(dev, m.ControlCode, m.Detail)
}

func (r *Registry) reaper(ctx context.Context) error {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.mu.Lock()
			buses := make([]*Bus, 0, len(r.buses))
			for _, b := range r.buses {
				buses = append(buses, b)
			}
			r.mu.Unlock()

			for _, b := range buses {
				b.reapDelivered()
			}
		}
	}
}
