package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/mcubus/bus"
	"github.com/ardnew/mcubus/pkg"
)

// Control codes the coprocessor's gpio driver understands.
const (
	cmdRead           = 'r'
	cmdHigh           = 'h'
	cmdLow            = 'l'
	cmdDirectionInput = 'i'
	cmdDirectionOutput = 'o'
)

// DefaultTimeout bounds how long a gpio command waits for a response
// before giving up.
const DefaultTimeout = 2 * time.Second

// Direction is a gpio pin's signal direction.
type Direction int

// Pin directions.
const (
	DirectionOutput Direction = iota
	DirectionInput
)

// Driver is a [bus.Driver] fronting a bank of gpio pins exposed by a
// single device_id on the coprocessor bus. It holds no per-pin state of
// its own -- every call round-trips to the peer, mirroring the
// coprocessor's own stateless gpio_chip callbacks.
type Driver struct {
	Timeout time.Duration
}

// New returns a gpio Driver with [DefaultTimeout].
func New() *Driver {
	return &Driver{Timeout: DefaultTimeout}
}

// Names implements [bus.Driver].
func (*Driver) Names() []string { return []string{"mcu-gpio"} }

// Probe implements [bus.Driver]. Gpio pins need no per-device setup.
func (*Driver) Probe(*bus.Device) error { return nil }

// Remove implements [bus.Driver].
func (*Driver) Remove(*bus.Device) error { return nil }

// Report implements [bus.Driver]. The coprocessor's gpio driver never
// emits unsolicited reports; any that arrive are logged and dropped.
func (d *Driver) Report(dev *bus.Device, controlCode byte, detail []byte) {
	pkg.LogWarn(pkg.ComponentDriver, "unexpected gpio report",
		"device", dev.ID(), "control_code", controlCode)
}

func (d *Driver) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

func (d *Driver) command(ctx context.Context, dev *bus.Device, code byte, offset byte) (byte, error) {
	detail, err := dev.Bus().SendRequest(ctx, dev.ID(), code, []byte{offset}, d.timeout())
	if err != nil {
		return 0, fmt.Errorf("gpio: pin %d: %w", offset, err)
	}
	if len(detail) < 1 {
		return 0, pkg.ErrNoSpace
	}
	return detail[0], nil
}

// Get reads the current level of offset: non-zero means high.
func (d *Driver) Get(ctx context.Context, dev *bus.Device, offset byte) (bool, error) {
	value, err := d.command(ctx, dev, cmdRead, offset)
	return value != 0, err
}

// Set drives offset high or low. The pin must already be configured as
// an output.
func (d *Driver) Set(ctx context.Context, dev *bus.Device, offset byte, high bool) error {
	code := byte(cmdLow)
	if high {
		code = cmdHigh
	}
	_, err := d.command(ctx, dev, code, offset)
	return err
}

// SetDirection configures offset as an input or an output.
func (d *Driver) SetDirection(ctx context.Context, dev *bus.Device, offset byte, dir Direction) error {
	code := byte(cmdDirectionOutput)
	if dir == DirectionInput {
		code = cmdDirectionInput
	}
	_, err := d.command(ctx, dev, code, offset)
	return err
}
