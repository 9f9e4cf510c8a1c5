// Package router implements the Message Router component.
//
// The Message Router:
//   - Classifies each inbound frame by its "type" or "command" discriminator
//   - Validates the payload before any field is used
//   - Applies updates to the State Store
//   - Rebroadcasts to every open connection except the sender
//
// health_update commands go to the health sink only and are never rebroadcast.
package router
