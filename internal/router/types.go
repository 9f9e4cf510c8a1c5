package router

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cybergrid/hud-relay/internal/model"
)

// Errors
var (
	// ErrMalformedFrame: not JSON, no recognizable discriminator, or a
	// payload of the wrong shape. The frame is dropped.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrInvalidField: well-formed frame whose values are not accepted,
	// such as a toggle of "mode". Ignored without state change or broadcast.
	ErrInvalidField = errors.New("invalid field")
)

// MessageType is the "type" discriminator.
type MessageType string

const (
	TypeMetrics MessageType = "metrics"
	TypeState   MessageType = "state"
	TypeLog     MessageType = "log"
	TypeFocus   MessageType = "focus"
	TypeTicker  MessageType = "ticker"
	TypeFull    MessageType = "full" // outbound only, sent on connect
)

// Command is the "command" discriminator.
type Command string

const (
	CommandToggle       Command = "toggle"
	CommandHealthUpdate Command = "health_update"
)

// Message is an outbound relay message.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// Config holds configuration for the Message Router.
type Config struct {
	// Static labels included in every connect-time snapshot.
	NetworkStatus    string // Default: "Connected"
	EncryptionStatus string // Default: "AES-256"

	// HealthTimeout bounds each health sink Record call so a slow sink
	// cannot stall the sender's read loop.
	HealthTimeout time.Duration // Default: 1s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		NetworkStatus:    "Connected",
		EncryptionStatus: "AES-256",
		HealthTimeout:    time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	MessagesRouted   int64
	MalformedFrames  int64
	InvalidFields    int64
	Deliveries       int64 // Frames queued to receiving peers
	DroppedPeers     int64 // Peers removed after a failed enqueue
	HealthForwarded  int64
	HealthErrors     int64
}

// Frame is a validated inbound frame. The concrete type is one of
// MetricsUpdate, StateUpdate, LogUpdate, FocusUpdate, TickerUpdate,
// ToggleCommand or HealthUpdateCommand.
type Frame interface {
	frame()
}

// MetricsUpdate replaces all metrics.
type MetricsUpdate struct {
	Metrics model.Metrics
}

// StateUpdate merges into the assistant state.
type StateUpdate struct {
	Patch model.StatePatch
}

// LogUpdate appends one log entry.
type LogUpdate struct {
	Entry model.LogEntry
}

// FocusUpdate replaces the focus content.
type FocusUpdate struct {
	Focus model.FocusContent
}

// TickerUpdate replaces the ticker items.
type TickerUpdate struct {
	Items []model.TickerItem
}

// ToggleCommand sets one boolean feature flag.
type ToggleCommand struct {
	Key   string
	Value bool
}

// HealthUpdateCommand is a health tracker reading from a viewer.
type HealthUpdateCommand struct {
	Metric string
	Level  float64
}

func (MetricsUpdate) frame()       {}
func (StateUpdate) frame()         {}
func (LogUpdate) frame()           {}
func (FocusUpdate) frame()         {}
func (TickerUpdate) frame()        {}
func (ToggleCommand) frame()       {}
func (HealthUpdateCommand) frame() {}

// Wire types for JSON parsing

// envelope carries both discriminators plus the command fields, looked up
// by exact member name. For health_update, "type" holds the metric name
// rather than a MessageType.
type envelope struct {
	Type    string
	Command string
	Data    json.RawMessage
	Key     json.RawMessage
	Value   json.RawMessage
	Level   json.RawMessage
}
