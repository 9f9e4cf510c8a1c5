package state

import (
	"sync"

	"github.com/cybergrid/hud-relay/internal/model"
)

// Config holds State Store configuration.
type Config struct {
	LogCapacity  int // Default: 50
	SnapshotLogs int // Default: 8
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		LogCapacity:  50,
		SnapshotLogs: 8,
	}
}

// Stats contains store counters.
type Stats struct {
	MetricsUpdates int64
	StateUpdates   int64
	Toggles        int64
	LogsAppended   int64
	LogsDropped    int64
	LogLen         int
	FocusUpdates   int64
	TickerUpdates  int64
}

// Store is the in-memory dashboard state. A single RWMutex covers every
// field, so each mutation is applied as a whole.
type Store struct {
	cfg Config

	mu        sync.RWMutex
	metrics   model.Metrics
	assistant model.AssistantState
	logs      *logRing
	focus     *model.FocusContent
	ticker    []model.TickerItem

	stats Stats
}

// NewStore creates a store holding the default starting values.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.LogCapacity < 1 {
		cfg.LogCapacity = def.LogCapacity
	}
	if cfg.SnapshotLogs < 1 {
		cfg.SnapshotLogs = def.SnapshotLogs
	}

	return &Store{
		cfg:       cfg,
		metrics:   model.DefaultMetrics(),
		assistant: model.DefaultAssistantState(),
		logs:      newLogRing(cfg.LogCapacity),
		ticker:    []model.TickerItem{},
	}
}

// ApplyMetrics replaces the current metrics.
func (s *Store) ApplyMetrics(m model.Metrics) {
	m = m.Clone()
	if m == nil {
		m = model.Metrics{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	s.stats.MetricsUpdates++
}

// ApplyState merges a partial update into the assistant state and returns
// the result. An invalid patch is rejected without mutating anything.
func (s *Store) ApplyState(p model.StatePatch) (model.AssistantState, error) {
	if err := p.Validate(); err != nil {
		return s.State(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistant = s.assistant.Merge(p)
	s.stats.StateUpdates++
	return s.assistant, nil
}

// Toggle sets one feature flag and returns the full resulting state.
// It reports false, without mutating, for "mode" and unknown keys.
func (s *Store) Toggle(key string, value bool) (model.AssistantState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.assistant.Toggle(key, value)
	if !ok {
		return s.assistant, false
	}
	s.assistant = next
	s.stats.Toggles++
	return next, true
}

// AppendLog pushes an entry, dropping the oldest once capacity is reached.
func (s *Store) AppendLog(e model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs.push(e)
	s.stats.LogsAppended++
}

// ApplyFocus replaces the focus content.
func (s *Store) ApplyFocus(f model.FocusContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus = &f
	s.stats.FocusUpdates++
}

// ApplyTicker replaces the ticker items.
func (s *Store) ApplyTicker(items []model.TickerItem) {
	cp := make([]model.TickerItem, len(items))
	copy(cp, items)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticker = cp
	s.stats.TickerUpdates++
}

// State returns the current assistant state.
func (s *Store) State() model.AssistantState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assistant
}

// Logs returns every stored log entry, oldest first.
func (s *Store) Logs() []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logs.last(0)
}

// Snapshot returns a copy of all fields with the last SnapshotLogs entries.
// NetworkStatus and EncryptionStatus are left for the caller to fill.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := model.Snapshot{
		Metrics:     s.metrics.Clone(),
		JarvisState: s.assistant,
		Logs:        s.logs.last(s.cfg.SnapshotLogs),
		TickerItems: make([]model.TickerItem, len(s.ticker)),
	}
	copy(snap.TickerItems, s.ticker)
	if s.focus != nil {
		f := *s.focus
		snap.FocusContent = &f
	}
	return snap
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.LogsDropped = s.logs.dropped
	st.LogLen = s.logs.len()
	return st
}
