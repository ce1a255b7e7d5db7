// Package pipe implements an in-memory [transport.Transport] pair for
// loopback testing: one Transport's Write feeds the other's Sink
// directly, with no serialization and no byte loss, so tests can drive a
// host and peer bus against each other without real hardware.
package pipe
