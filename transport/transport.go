package transport

import "context"

// Sink receives bytes and write-completion notifications from a running
// [Transport]. A [bus.Bus] implements Sink and registers itself with the
// transport it owns.
//
// Implementations must not block in either method; both are called from
// the transport's own read/write goroutines.
type Sink interface {
	// Deliver reports that data arrived from the peer. The transport
	// does not retain data after Deliver returns.
	Deliver(data []byte)

	// NotifyWriteComplete reports that a previously queued Write has
	// finished transmitting and the caller is free to send more.
	NotifyWriteComplete()
}

// Transport is the capability interface a bus needs from its underlying
// byte link: the ability to push already-framed bytes out, and a
// lifecycle to start delivering inbound bytes to a [Sink] and to tear
// down cleanly.
//
// Write must be safe to call concurrently with Start/Stop. Concurrent
// calls to Write itself are serialized by the caller: a [bus.Bus] holds
// a dedicated write lock so two in-flight requests on the same bus never
// interleave their frames' bytes on the wire.
type Transport interface {
	// Start begins delivering inbound bytes to sink and must return
	// once the transport is ready to accept Write calls. The context
	// governs the transport's background goroutines; Stop should still
	// be called to release resources.
	Start(ctx context.Context, sink Sink) error

	// Write sends p to the peer and reports how much was written.
	// A short write (n < len(p)) without an error should not happen for
	// correctly implemented transports; a [bus.Bus] treats it as a failed
	// write and reports [pkg.ErrTransportFailed].
	Write(p []byte) (n int, err error)

	// Stop halts delivery and releases the transport's resources.
	// Stop is idempotent.
	Stop() error
}
