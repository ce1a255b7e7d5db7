package oled

import (
	"context"
	"testing"

	"github.com/ardnew/mcubus/bus"
	"github.com/ardnew/mcubus/transport/pipe"
)

type fakePeer struct {
	lastCode byte
	lastData []byte
}

func (*fakePeer) Names() []string          { return []string{"fake-mcu-oled"} }
func (*fakePeer) Probe(*bus.Device) error  { return nil }
func (*fakePeer) Remove(*bus.Device) error { return nil }
func (f *fakePeer) Report(dev *bus.Device, controlCode byte, detail []byte) {
	f.lastCode = controlCode
	f.lastData = append([]byte(nil), detail...)
	_ = dev.Bus().Respond(dev.ID(), controlCode, nil)
}

func newTestRig(t *testing.T) (*Driver, *bus.Device, *fakePeer, func()) {
	t.Helper()

	hostTransport, peerTransport := pipe.NewPair()
	host := bus.NewRegistry()
	peer := bus.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	if err := host.Start(ctx); err != nil {
		t.Fatalf("host.Start: %v", err)
	}
	if err := peer.Start(ctx); err != nil {
		t.Fatalf("peer.Start: %v", err)
	}

	hostBus, err := host.AddBus(ctx, hostTransport)
	if err != nil {
		t.Fatalf("host.AddBus: %v", err)
	}
	peerBus, err := peer.AddBus(ctx, peerTransport)
	if err != nil {
		t.Fatalf("peer.AddBus: %v", err)
	}

	fp := &fakePeer{}
	if err := peer.RegisterDriver(fp); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}
	if _, err := peer.AddDevice(peerBus, 0x03, "fake-mcu-oled"); err != nil {
		t.Fatalf("peer.AddDevice: %v", err)
	}

	drv := New()
	dev, err := hostBus.AddDevice(0x03, "mcu-oled", func(string) (bus.Driver, bool) { return drv, true })
	if err != nil {
		t.Fatalf("hostBus.AddDevice: %v", err)
	}

	return drv, dev, fp, func() {
		cancel()
		_ = host.Stop()
		_ = peer.Stop()
	}
}

func TestDriverClear(t *testing.T) {
	drv, dev, fp, stop := newTestRig(t)
	defer stop()

	if err := drv.Clear(context.Background(), dev); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if fp.lastCode != cmdFill {
		t.Errorf("lastCode = %c, want F", fp.lastCode)
	}
	if len(fp.lastData) != 1 || fp.lastData[0] != 0 {
		t.Errorf("lastData = %v, want [0]", fp.lastData)
	}
}

func TestDriverDrawRejectsOutOfBounds(t *testing.T) {
	drv, dev, _, stop := newTestRig(t)
	defer stop()

	err := drv.Draw(context.Background(), dev, 0, 0, Width+1, 1, false, make([]byte, Width+1))
	if err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestDriverDrawRejectsDataLengthMismatch(t *testing.T) {
	drv, dev, _, stop := newTestRig(t)
	defer stop()

	err := drv.Draw(context.Background(), dev, 0, 0, 4, 2, false, make([]byte, 3))
	if err == nil {
		t.Fatal("expected data length mismatch error")
	}
}

func TestDriverDrawEncodesRegion(t *testing.T) {
	drv, dev, fp, stop := newTestRig(t)
	defer stop()

	data := []byte{1, 2, 3, 4}
	if err := drv.Draw(context.Background(), dev, 5, 2, 2, 2, true, data); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if fp.lastCode != cmdDraw {
		t.Fatalf("lastCode = %c, want D", fp.lastCode)
	}
	want := []byte{5, 2, 2, (2 & 0x07) | 0x08 | (2 << 4), 1, 2, 3, 4}
	if len(fp.lastData) != len(want) {
		t.Fatalf("lastData = %v, want %v", fp.lastData, want)
	}
	for i := range want {
		if fp.lastData[i] != want[i] {
			t.Errorf("lastData[%d] = %d, want %d", i, fp.lastData[i], want[i])
		}
	}
}
