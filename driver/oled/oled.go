package oled

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/mcubus/bus"
	"github.com/ardnew/mcubus/pkg"
)

// Control codes the coprocessor's oled driver understands.
const (
	cmdFill = 'F'
	cmdDraw = 'D'
)

// Panel dimensions, in pixels and in 8-pixel-tall pages respectively.
const (
	Width  = 128
	Height = 8
)

// DefaultTimeout bounds how long a fill or draw command waits for the
// peer to acknowledge it.
const DefaultTimeout = 2 * time.Second

// Driver is a [bus.Driver] fronting one LQ12864 panel.
type Driver struct {
	Timeout time.Duration
}

// New returns an oled Driver with [DefaultTimeout].
func New() *Driver {
	return &Driver{Timeout: DefaultTimeout}
}

// Names implements [bus.Driver].
func (*Driver) Names() []string { return []string{"mcu-oled"} }

// Probe implements [bus.Driver]. The panel needs no per-device setup.
func (*Driver) Probe(*bus.Device) error { return nil }

// Remove implements [bus.Driver].
func (*Driver) Remove(*bus.Device) error { return nil }

// Report implements [bus.Driver]. The panel never emits unsolicited
// reports.
func (d *Driver) Report(dev *bus.Device, controlCode byte, detail []byte) {
	pkg.LogWarn(pkg.ComponentDriver, "unexpected oled report",
		"device", dev.ID(), "control_code", controlCode)
}

func (d *Driver) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Fill sets every pixel on the panel to the same byte pattern.
func (d *Driver) Fill(ctx context.Context, dev *bus.Device, pattern byte) error {
	_, err := dev.Bus().SendRequest(ctx, dev.ID(), cmdFill, []byte{pattern}, d.timeout())
	if err != nil {
		return fmt.Errorf("oled: fill: %w", err)
	}
	return nil
}

// Clear blanks the entire panel.
func (d *Driver) Clear(ctx context.Context, dev *bus.Device) error {
	return d.Fill(ctx, dev, 0)
}

// Draw writes pixel data into the width x height region at (x, y).
// data must hold exactly width*height bytes, each byte covering one
// column of an 8-pixel page the way the panel controller expects.
// inverse flips the region's pixels before it is written.
func (d *Driver) Draw(ctx context.Context, dev *bus.Device, x, y, width, height byte, inverse bool, data []byte) error {
	if x >= Width || y >= Height {
		return fmt.Errorf("oled: origin (%d,%d) outside panel", x, y)
	}
	if int(x)+int(width) > Width || int(y)+int(height) > Height {
		return fmt.Errorf("oled: region exceeds panel bounds")
	}
	if len(data) != int(width)*int(height) {
		return fmt.Errorf("oled: data length %d does not match %dx%d region", len(data), width, height)
	}

	packed := (y & 0x07)
	if inverse {
		packed |= 0x08
	}
	packed |= (height & 0x0F) << 4

	payload := make([]byte, 0, 4+len(data))
	payload = append(payload, x, width, width, packed)
	payload = append(payload, data...)

	if _, err := dev.Bus().SendRequest(ctx, dev.ID(), cmdDraw, payload, d.timeout()); err != nil {
		return fmt.Errorf("oled: draw: %w", err)
	}
	return nil
}
