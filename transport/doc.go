// Package transport defines the byte-level link between a bus and its
// peer, and provides two concrete implementations: an in-memory pipe for
// testing (see [github.com/ardnew/mcubus/transport/pipe]) and a real
// serial port (see [github.com/ardnew/mcubus/transport/serial]).
//
// A [Transport] only ever pushes bytes out; delivery of inbound bytes and
// write-completion notifications flow the other way, through the [Sink]
// a transport is started with. This mirrors the coprocessor's own
// line-discipline wiring, where receive_buf and write_wakeup callbacks
// drive the packet layer rather than the packet layer polling a read
// call.
package transport
