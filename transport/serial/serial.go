package serial

import (
	"context"
	"sync"
	"time"

	goserial "go.bug.st/serial"

	"github.com/ardnew/mcubus/pkg"
	"github.com/ardnew/mcubus/transport"
)

// readChunk is the buffer size used for each blocking read from the
// underlying port.
const readChunk = 256

// pollInterval bounds how long a single port.Read call blocks before
// the read loop re-checks for cancellation.
const pollInterval = 100 * time.Millisecond

// Configuration describes how to open and frame a serial link.
type Configuration struct {
	// Port is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	Port string

	// Baud is the link speed in bits per second.
	Baud int

	// DataBits, Parity, and StopBits configure the serial frame. Zero
	// values default to 8 data bits, no parity, one stop bit.
	DataBits int
	Parity   goserial.Parity
	StopBits goserial.StopBits
}

func (c Configuration) mode() *goserial.Mode {
	m := &goserial.Mode{
		BaudRate: c.Baud,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	}
	if m.BaudRate == 0 {
		m.BaudRate = 115200
	}
	if m.DataBits == 0 {
		m.DataBits = 8
	}
	return m
}

// Transport implements [transport.Transport] over an open serial port.
type Transport struct {
	conf Configuration
	port goserial.Port

	mutex   sync.RWMutex
	running bool
	sink    transport.Sink

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens the serial port named by conf.Port and returns a Transport
// ready to be started.
func Open(conf Configuration) (*Transport, error) {
	port, err := goserial.Open(conf.Port, conf.mode())
	if err != nil {
		return nil, err
	}
	return &Transport{conf: conf, port: port, closeCh: make(chan struct{})}, nil
}

// Start implements [transport.Transport].
func (t *Transport) Start(ctx context.Context, sink transport.Sink) error {
	t.mutex.Lock()
	if t.running {
		t.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	t.sink = sink
	t.running = true
	t.mutex.Unlock()

	if err := t.port.SetReadTimeout(pollInterval); err != nil {
		t.mutex.Lock()
		t.running = false
		t.mutex.Unlock()
		return err
	}

	t.wg.Add(1)
	go t.readLoop(ctx)

	pkg.LogInfo(pkg.ComponentTransport, "serial transport started", "port", t.conf.Port)
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()

	buf := make([]byte, readChunk)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closeCh:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			pkg.LogWarn(pkg.ComponentTransport, "serial read error", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		t.mutex.RLock()
		sink := t.sink
		t.mutex.RUnlock()
		if sink != nil {
			sink.Deliver(buf[:n])
		}
	}
}

// Write implements [transport.Transport].
func (t *Transport) Write(p []byte) (int, error) {
	t.mutex.RLock()
	running := t.running
	sink := t.sink
	t.mutex.RUnlock()
	if !running {
		return 0, pkg.ErrNotRunning
	}

	n, err := t.port.Write(p)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, pkg.ErrShortWrite
	}

	if sink != nil {
		sink.NotifyWriteComplete()
	}
	return n, nil
}

// Stop implements [transport.Transport]. It is idempotent.
func (t *Transport) Stop() error {
	t.mutex.Lock()
	if !t.running {
		t.mutex.Unlock()
		return nil
	}
	t.running = false
	t.mutex.Unlock()

	t.closeOnce.Do(func() { close(t.closeCh) })
	err := t.port.Close()
	t.wg.Wait()

	pkg.LogInfo(pkg.ComponentTransport, "serial transport stopped", "port", t.conf.Port)
	return err
}

var _ transport.Transport = (*Transport)(nil)
