// Package frame implements the coprocessor bus wire codec: a six-byte
// header, dual checksum, and whole-frame XOR obfuscation carried over an
// arbitrary byte transport.
//
// # Wire Layout
//
// Every frame begins with a fixed header:
//
//	magic0 | magic1 | length | identity | message_checksum | header_checksum
//
// followed by length bytes of message payload (0..[MaxPayload]). Ping and
// pong frames carry no payload; request and response frames carry a
// [ControlMessage].
//
// # Obfuscation
//
// The header is filled and both checksums computed over plaintext bytes,
// then the entire frame (header and payload together) is XORed with
// [xorMask] before transmission. A receiver must undo that XOR -- see
// [Deobfuscate] -- before the bytes are scanned for a frame with [Decode].
//
// # Zero-Allocation Parsing
//
// [ParseControlMessage] takes an output parameter rather than returning a
// new value, matching the rest of this module's caller-owns-the-buffer
// conventions.
package frame
