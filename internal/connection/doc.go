// Package connection implements the Connection Registry and the WebSocket
// endpoints on both sides of the relay.
//
//   - Registry tracks the set of open viewer connections
//   - Peer wraps one accepted connection with an ordered outbound queue
//   - Client dials the relay (used by producers and debugging viewers)
package connection
