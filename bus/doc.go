// Package bus implements the coprocessor bus runtime: a receive ring per
// transport, a single global event queue drained by one worker, and the
// device/driver registry that dispatches decoded frames to bound
// drivers.
//
// # Concurrency Model
//
// Exactly one goroutine -- the worker launched by [Registry.Start] --
// does frame decoding and driver dispatch. Transport read goroutines
// only push an [Event] onto the shared [Queue]. Callers of
// [Bus.SendRequest] and [Bus.Ping] run on their own goroutines: each
// registers a waiter under the bus lock, writes its own frame to the
// transport, and then blocks on a channel the worker signals when a
// matching frame arrives. Transport writes on one bus are serialized by
// a per-bus write lock that is held for the whole transport Write call.
//
// Lock order, where more than one is held at once, is always registry,
// then bus, then queue -- the queue's own lock is private to it and
// never held while calling back into bus or registry code.
//
// # Correlation
//
// A response is matched to the request that caused it (and a pong to a
// ping) by scanning the list of blocked callers for the oldest one whose
// predicate accepts the frame, not by a single shared flag -- a bus with
// several requests in flight can have several goroutines waiting at
// once. A frame that arrives with no registered waiter to claim it is
// parked on a per-bus delivered queue; [Bus.SendRequest] and [Bus.Ping]
// register a waiter and transmit their own request before ever
// consulting that queue, so a stale delivered entry can only be claimed
// after the caller's request has actually reached the wire, never
// instead of sending it. A periodic reaper discards delivered entries
// that no caller claims before they go stale.
package bus
