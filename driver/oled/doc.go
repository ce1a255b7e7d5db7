// Package oled implements a [bus.Driver] for the coprocessor's LQ12864
// OLED panel: fill/clear the whole display and draw a rectangular
// region of packed pixel data. Font rendering and the misc-device
// ioctl surface of the original driver are out of scope here -- this
// package only exercises the wire commands the coprocessor bus
// carries.
package oled
