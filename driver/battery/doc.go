// Package battery implements a [bus.Driver] for the coprocessor's
// battery status codes: capacity and charge status pushed
// asynchronously by the peer, translated into the capacity-level
// buckets the original power-supply driver used.
package battery
