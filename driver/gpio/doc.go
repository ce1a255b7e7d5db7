// Package gpio implements a [bus.Driver] for the coprocessor's GPIO
// control codes: read the level of a pin, drive it high or low, and
// select input or output direction.
package gpio
