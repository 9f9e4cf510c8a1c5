// Package state implements the State Store component.
//
// The State Store:
//   - Holds the single authoritative copy of metrics, assistant state,
//     focus content and ticker items
//   - Keeps a bounded log (default 50 entries, oldest dropped first)
//   - Produces point-in-time snapshots for newly connected viewers
//
// Nothing is persisted. All operations are in-memory and never block on I/O.
package state
