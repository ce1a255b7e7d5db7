// Package serial implements [transport.Transport] over a real serial
// port using [go.bug.st/serial], the same line discipline the
// coprocessor bus was originally wired to via a Linux tty.
package serial
