// Package relay is the HTTP face of the HUD relay.
//
// It upgrades viewer connections on the WebSocket path, attaches each one
// to the router (which sends the connect-time snapshot), and feeds every
// inbound text frame to Router.Route from that viewer's read goroutine.
// A liveness endpoint and a JSON stats endpoint are served alongside.
package relay
