// Package model defines the shared dashboard types carried by the relay.
//
// All types mirror the JSON wire format consumed by HUD viewers.
//
// Conventions:
//   - Metrics: named float readings, units implicit per key (%, °C, ms)
//   - Timestamps on log entries: human readable strings chosen by the producer
//   - Enumerations (mode, log level, focus kind) are validated at the boundary
package model
