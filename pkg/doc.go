// Package pkg provides shared utilities for the mcubus coprocessor bus
// stack.
//
// This package contains common functionality used across the frame,
// transport, bus, and driver packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for bus protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with bus-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBus, "device bound", "device_id", id)
//
// # Errors
//
// Common bus errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // Handle a request that was never answered
//	}
package pkg
