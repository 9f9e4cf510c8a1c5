// Package bridge is the upstream producer side of the HUD relay.
//
// A Bridge keeps one connection to the relay open, reconnecting with
// exponential backoff, and pushes host metrics on a fixed interval while
// connected. The Push methods let the assistant publish its mode, log
// lines, focus content and ticker items. Toggles made by viewers arrive
// as "state" messages and are reported through the state change handler.
package bridge
