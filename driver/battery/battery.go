package battery

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/mcubus/bus"
	"github.com/ardnew/mcubus/pkg"
)

// Control codes the coprocessor's battery driver understands.
const (
	cmdStatus   = 'S'
	cmdCapacity = 'C'
)

// notPresentStatus is the sentinel status value the peer sends when no
// battery is attached.
const notPresentStatus = 5

// DefaultTimeout bounds how long a status or capacity query waits for a
// response.
const DefaultTimeout = 2 * time.Second

// CapacityLevel buckets a percentage into the same ranges the original
// power-supply driver reported.
type CapacityLevel int

// Capacity levels, ordered from empty to full.
const (
	CapacityUnknown CapacityLevel = iota
	CapacityCritical
	CapacityLow
	CapacityNormal
	CapacityHigh
	CapacityFull
)

func levelFor(capacity byte) CapacityLevel {
	switch {
	case capacity >= 99:
		return CapacityFull
	case capacity >= 80:
		return CapacityHigh
	case capacity >= 30:
		return CapacityNormal
	case capacity >= 10:
		return CapacityLow
	default:
		return CapacityCritical
	}
}

// Health mirrors the original driver's coarse health signal, derived
// from capacity rather than reported separately by the peer.
type Health int

// Health values.
const (
	HealthUnknown Health = iota
	HealthGood
	HealthDead
)

// Reading is a snapshot of one battery-backed device's state.
type Reading struct {
	Present       bool
	Status        byte
	Capacity      byte
	CapacityLevel CapacityLevel
	Health        Health
}

type state struct {
	mu      sync.Mutex
	present bool
	status  byte
	capacity byte
	level   CapacityLevel
	health  Health
}

func (s *state) setStatus(value byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == notPresentStatus {
		s.present = false
		s.status = 0
		return
	}
	s.present = true
	s.status = value
}

func (s *state) setCapacity(value byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = value
	s.level = levelFor(value)
	if s.level == CapacityCritical {
		s.health = HealthDead
	} else {
		s.health = HealthGood
	}
}

func (s *state) snapshot() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Reading{
		Present:       s.present,
		Status:        s.status,
		Capacity:      s.capacity,
		CapacityLevel: s.level,
		Health:        s.health,
	}
}

func (s *state) hasStatus() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status != 0
}

func (s *state) hasCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity != 0
}

// Driver is a [bus.Driver] tracking one battery-backed device's status
// and capacity, refreshed on demand and updated asynchronously whenever
// the peer reports a change.
type Driver struct {
	Timeout time.Duration

	mu     sync.Mutex
	states map[byte]*state
}

// New returns a battery Driver with [DefaultTimeout].
func New() *Driver {
	return &Driver{Timeout: DefaultTimeout, states: make(map[byte]*state)}
}

// Names implements [bus.Driver].
func (*Driver) Names() []string { return []string{"mcu-battery"} }

// Probe implements [bus.Driver].
func (d *Driver) Probe(dev *bus.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[dev.ID()] = &state{}
	return nil
}

// Remove implements [bus.Driver].
func (d *Driver) Remove(dev *bus.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, dev.ID())
	return nil
}

// Report implements [bus.Driver]. It updates the device's cached state
// from an unsolicited status or capacity push.
func (d *Driver) Report(dev *bus.Device, controlCode byte, detail []byte) {
	if len(detail) != 1 {
		pkg.LogError(pkg.ComponentDriver, "invalid battery report length",
			"device", dev.ID(), "control_code", controlCode, "len", len(detail))
		return
	}

	s := d.stateFor(dev)
	if s == nil {
		return
	}

	switch controlCode {
	case cmdCapacity:
		s.setCapacity(detail[0])
	case cmdStatus:
		s.setStatus(detail[0])
	default:
		pkg.LogWarn(pkg.ComponentDriver, "unknown battery command",
			"device", dev.ID(), "control_code", controlCode)
	}
}

func (d *Driver) stateFor(dev *bus.Device) *state {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[dev.ID()]
}

func (d *Driver) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

func (d *Driver) query(ctx context.Context, dev *bus.Device, code byte) (byte, error) {
	detail, err := dev.Bus().SendRequest(ctx, dev.ID(), code, []byte{0}, d.timeout())
	if err != nil {
		return 0, err
	}
	if len(detail) < 1 {
		return 0, pkg.ErrNoSpace
	}
	return detail[0], nil
}

// Status returns whether the battery is present, fetching a fresh
// status from the peer whenever the cached status is zero: none
// observed yet, or the last one reported the battery not present.
func (d *Driver) Status(ctx context.Context, dev *bus.Device) (Reading, error) {
	s := d.stateFor(dev)
	if s == nil {
		return Reading{}, pkg.ErrUnknownDevice
	}
	if !s.hasStatus() {
		value, err := d.query(ctx, dev, cmdStatus)
		if err != nil {
			return Reading{}, err
		}
		s.setStatus(value)
	}
	return s.snapshot(), nil
}

// Capacity returns the battery's charge level. It first refreshes the
// status as [Driver.Status] does, then fetches the capacity from the
// peer whenever the cached capacity is zero -- the same on-demand order
// the coprocessor's original driver used.
func (d *Driver) Capacity(ctx context.Context, dev *bus.Device) (Reading, error) {
	if _, err := d.Status(ctx, dev); err != nil {
		return Reading{}, err
	}

	s := d.stateFor(dev)
	if s == nil {
		return Reading{}, pkg.ErrUnknownDevice
	}
	if !s.hasCapacity() {
		value, err := d.query(ctx, dev, cmdCapacity)
		if err != nil {
			return Reading{}, err
		}
		s.setCapacity(value)
	}
	return s.snapshot(), nil
}
