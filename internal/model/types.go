package model

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidMode      = errors.New("invalid assistant mode")
	ErrInvalidLevel     = errors.New("invalid log level")
	ErrInvalidFocusKind = errors.New("invalid focus kind")
	ErrMissingField     = errors.New("missing required field")
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

// Metrics holds the latest system readings (e.g. "cpu", "memory", "gpuTemp").
// An update always replaces the whole map.
type Metrics map[string]float64

// Well-known metric keys.
const (
	MetricCPU     = "cpu"
	MetricMemory  = "memory"
	MetricGPUTemp = "gpuTemp"
	MetricCPUTemp = "cpuTemp"
	MetricNPU     = "npu"
	MetricOllama  = "ollama"
)

// DefaultMetrics returns the zeroed readings a fresh relay starts with.
func DefaultMetrics() Metrics {
	return Metrics{
		MetricCPU:     0,
		MetricMemory:  0,
		MetricGPUTemp: 0,
		MetricCPUTemp: 0,
	}
}

// Clone returns an independent copy.
func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// Assistant state
// -----------------------------------------------------------------------------

// Mode is what the assistant is currently doing.
type Mode string

const (
	ModeSpeaking  Mode = "speaking"
	ModeListening Mode = "listening"
	ModeIdle      Mode = "idle"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSpeaking, ModeListening, ModeIdle:
		return true
	}
	return false
}

// Toggle keys accepted by the toggle command. "mode" is not one of them.
const (
	ToggleGamingMode         = "gamingMode"
	ToggleMuteMic            = "muteMic"
	ToggleConversationalMode = "conversationalMode"
)

// ToggleKeys lists the feature flags in wire order.
var ToggleKeys = []string{ToggleGamingMode, ToggleMuteMic, ToggleConversationalMode}

// IsToggleKey reports whether key names a boolean feature flag.
func IsToggleKey(key string) bool {
	switch key {
	case ToggleGamingMode, ToggleMuteMic, ToggleConversationalMode:
		return true
	}
	return false
}

// AssistantState is the assistant's mode plus its feature flags.
type AssistantState struct {
	Mode               Mode `json:"mode"`
	GamingMode         bool `json:"gamingMode"`
	MuteMic            bool `json:"muteMic"`
	ConversationalMode bool `json:"conversationalMode"`
}

// DefaultAssistantState returns the state a fresh relay starts with.
func DefaultAssistantState() AssistantState {
	return AssistantState{
		Mode:               ModeIdle,
		ConversationalMode: true,
	}
}

// Toggle returns a copy with the named flag set to value.
// It reports false, leaving s unchanged, for unknown keys and for "mode".
func (s AssistantState) Toggle(key string, value bool) (AssistantState, bool) {
	switch key {
	case ToggleGamingMode:
		s.GamingMode = value
	case ToggleMuteMic:
		s.MuteMic = value
	case ToggleConversationalMode:
		s.ConversationalMode = value
	default:
		return s, false
	}
	return s, true
}

// Flag returns the value of a feature flag by wire key.
func (s AssistantState) Flag(key string) (bool, bool) {
	switch key {
	case ToggleGamingMode:
		return s.GamingMode, true
	case ToggleMuteMic:
		return s.MuteMic, true
	case ToggleConversationalMode:
		return s.ConversationalMode, true
	}
	return false, false
}

// StatePatch is a partial AssistantState. Nil fields are left untouched.
type StatePatch struct {
	Mode               *Mode `json:"mode,omitempty"`
	GamingMode         *bool `json:"gamingMode,omitempty"`
	MuteMic            *bool `json:"muteMic,omitempty"`
	ConversationalMode *bool `json:"conversationalMode,omitempty"`
}

// Validate checks the patch's mode, if present.
func (p StatePatch) Validate() error {
	if p.Mode != nil && !p.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, *p.Mode)
	}
	return nil
}

// Merge applies the patch field by field and returns the result.
func (s AssistantState) Merge(p StatePatch) AssistantState {
	if p.Mode != nil {
		s.Mode = *p.Mode
	}
	if p.GamingMode != nil {
		s.GamingMode = *p.GamingMode
	}
	if p.MuteMic != nil {
		s.MuteMic = *p.MuteMic
	}
	if p.ConversationalMode != nil {
		s.ConversationalMode = *p.ConversationalMode
	}
	return s
}

// -----------------------------------------------------------------------------
// Log entries
// -----------------------------------------------------------------------------

// LogLevel tags a log entry's severity or category.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarn    LogLevel = "warn"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
	LevelListen  LogLevel = "listen"
	LevelProcess LogLevel = "process"
	LevelSpeak   LogLevel = "speak"
)

// Valid reports whether l is one of the known levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarn, LevelError, LevelSuccess, LevelListen, LevelProcess, LevelSpeak:
		return true
	}
	return false
}

// LogEntry is one line of the rolling terminal log. Entries are never mutated.
type LogEntry struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

// Validate checks required fields and the level enumeration.
func (e LogEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: log.id", ErrMissingField)
	}
	if !e.Level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, e.Level)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Focus content and ticker
// -----------------------------------------------------------------------------

// FocusKind is the kind of document shown in the focus pane.
type FocusKind string

const (
	FocusDocs  FocusKind = "docs"
	FocusCode  FocusKind = "code"
	FocusEmail FocusKind = "email"
)

// Valid reports whether k is one of the known kinds.
func (k FocusKind) Valid() bool {
	switch k {
	case FocusDocs, FocusCode, FocusEmail:
		return true
	}
	return false
}

// FocusContent is the single item currently displayed in the focus pane.
type FocusContent struct {
	Type    FocusKind `json:"type"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
}

// Validate checks the focus kind.
func (f FocusContent) Validate() error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFocusKind, f.Type)
	}
	return nil
}

// TickerItem is one entry of the scrolling ticker tape.
type TickerItem struct {
	ShortKey string `json:"short_key"`
	Label    string `json:"label"`
}

// Validate checks required fields.
func (t TickerItem) Validate() error {
	if t.ShortKey == "" {
		return fmt.Errorf("%w: ticker.short_key", ErrMissingField)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Snapshot is the payload of the connect-time "full" message.
type Snapshot struct {
	Metrics          Metrics        `json:"metrics"`
	JarvisState      AssistantState `json:"jarvisState"`
	Logs             []LogEntry     `json:"logs"`
	FocusContent     *FocusContent  `json:"focusContent"`
	TickerItems      []TickerItem   `json:"tickerItems"`
	NetworkStatus    string         `json:"networkStatus"`
	EncryptionStatus string         `json:"encryptionStatus"`
}
