package connection

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrIdleTimeout    = errors.New("no traffic from relay")
	ErrAlreadyClosed  = errors.New("already closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is an open connection as seen by the Registry and the Message Router.
type Conn interface {
	// ID returns the connection's stable identity.
	ID() uuid.UUID

	// Enqueue schedules data for delivery without blocking.
	Enqueue(data []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// PeerConfig configures an accepted viewer connection.
type PeerConfig struct {
	SendBufferSize int           // Outbound queue length before the peer is dropped
	WriteTimeout   time.Duration // Write deadline per frame
	PingInterval   time.Duration // Interval between server pings (0 = no pings)
	PongWait       time.Duration // Read deadline extended on each pong (0 = no idle timeout)
	MaxMessageSize int64         // Read limit per inbound frame
}

// DefaultPeerConfig returns sensible defaults.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		SendBufferSize: 256,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Inbound is one relay message with its envelope split out.
type Inbound struct {
	Type       string          // "full", "metrics", "state", ...
	Data       json.RawMessage // The "data" member, verbatim
	Raw        []byte          // The whole frame
	ReceivedAt time.Time
}

// ClientConfig configures a Client. Setting MaxRedialDelay equal to
// RedialDelay gives a fixed delay between attempts.
type ClientConfig struct {
	URL              string        // Relay URL (e.g., ws://localhost:5000/ws)
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial and upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends
	IdleTimeout      time.Duration // Redial when no frame or ping arrives for this long (0 = never)
	RedialDelay      time.Duration // First wait after a failure
	MaxRedialDelay   time.Duration // Cap for the doubling wait
}

// DefaultClientConfig returns sensible defaults. IdleTimeout leaves room
// for two missed relay pings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:              "ws://localhost:5000/ws",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		IdleTimeout:      75 * time.Second,
		RedialDelay:      time.Second,
		MaxRedialDelay:   30 * time.Second,
	}
}
