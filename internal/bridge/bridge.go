package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cybergrid/hud-relay/internal/connection"
	"github.com/cybergrid/hud-relay/internal/model"
	"github.com/cybergrid/hud-relay/internal/router"
)

// ErrNotConnected is returned by the Push methods while the relay is
// unreachable. Nothing is queued.
var ErrNotConnected = connection.ErrNotConnected

// Config holds Bridge configuration.
type Config struct {
	URL                string        // Default: "ws://localhost:5000/ws"
	MetricsInterval    time.Duration // Default: 500ms; <0 disables
	ReconnectBaseDelay time.Duration // Default: 1s
	ReconnectMaxDelay  time.Duration // Default: 30s
	IdleTimeout        time.Duration // Default: 75s; redial when the relay goes quiet
	WriteTimeout       time.Duration // Default: 5s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		URL:                "ws://localhost:5000/ws",
		MetricsInterval:    500 * time.Millisecond,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		IdleTimeout:        75 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Connected        bool
	Connects         int64
	Disconnects      int64
	MessagesSent     int64
	MessagesReceived int64
	MetricsPushed    int64
	CollectErrors    int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConnectHandler registers fn to be called each time the relay
// connection comes up, before the relay's snapshot is read. Push methods
// work from fn.
func WithConnectHandler(fn func()) Option {
	return func(b *Bridge) {
		b.onConnect = fn
	}
}

// WithStateChangeHandler registers fn to be called once for each feature
// flag a viewer changes. It runs on the connection goroutine.
func WithStateChangeHandler(fn func(key string, value bool)) Option {
	return func(b *Bridge) {
		b.onStateChange = fn
	}
}

// Bridge pushes assistant telemetry to the relay.
type Bridge struct {
	cfg           Config
	collector     Collector
	logger        *slog.Logger
	onStateChange func(key string, value bool)
	onConnect     func()

	client *connection.Client

	mu    sync.RWMutex
	state model.AssistantState
	stats Stats
}

// New creates a Bridge. A nil collector disables the metrics loop.
func New(cfg Config, collector Collector, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.MetricsInterval == 0 {
		cfg.MetricsInterval = def.MetricsInterval
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = max(def.ReconnectMaxDelay, cfg.ReconnectBaseDelay)
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	b := &Bridge{
		cfg:       cfg,
		collector: collector,
		logger:    logger,
		state:     model.DefaultAssistantState(),
	}
	for _, opt := range opts {
		opt(b)
	}

	var clientOpts []connection.ClientOption
	if b.onConnect != nil {
		clientOpts = append(clientOpts, connection.WithConnectHandler(b.onConnect))
	}
	b.client = connection.NewClient(connection.ClientConfig{
		URL:            cfg.URL,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		RedialDelay:    cfg.ReconnectBaseDelay,
		MaxRedialDelay: cfg.ReconnectMaxDelay,
	}, logger, clientOpts...)
	return b
}

// Run keeps a relay connection open until ctx is cancelled, redialing
// with exponential backoff, and pushes host metrics while connected. It
// returns ctx.Err().
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if b.collector != nil && b.cfg.MetricsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.metricsLoop(ctx)
		}()
	}

	err := b.client.Run(ctx, b.handleMessage)
	wg.Wait()
	return err
}

// metricsLoop collects and pushes host metrics every MetricsInterval. Ticks
// while disconnected are skipped.
func (b *Bridge) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.client.IsConnected() {
				b.pushHostMetrics(ctx)
			}
		}
	}
}

// IsConnected reports whether the relay connection is up.
func (b *Bridge) IsConnected() bool {
	return b.client.IsConnected()
}

// State returns the bridge's copy of the assistant state.
func (b *Bridge) State() model.AssistantState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns current statistics.
func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	st := b.stats
	b.mu.RUnlock()

	cs := b.client.Stats()
	st.Connected = cs.Connected
	st.Connects = cs.Connects
	st.Disconnects = cs.Disconnects
	st.MessagesSent = cs.Sent
	st.MessagesReceived = cs.Received
	return st
}

// PushMetrics sends a full metrics map.
func (b *Bridge) PushMetrics(m model.Metrics) error {
	if m == nil {
		m = model.Metrics{}
	}
	return b.send(router.TypeMetrics, m)
}

// PushState merges p into the local state and sends the full result.
func (b *Bridge) PushState(p model.StatePatch) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if !b.client.IsConnected() {
		return ErrNotConnected
	}

	b.mu.Lock()
	b.state = b.state.Merge(p)
	next := b.state
	b.mu.Unlock()

	return b.send(router.TypeState, next)
}

// PushMode is shorthand for a state update that only sets the mode.
func (b *Bridge) PushMode(mode model.Mode) error {
	return b.PushState(model.StatePatch{Mode: &mode})
}

// Toggle asks the relay to set one feature flag.
func (b *Bridge) Toggle(key string, value bool) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}

	b.mu.Lock()
	next, ok := b.state.Toggle(key, value)
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("unknown toggle key %q", key)
	}
	b.state = next
	b.mu.Unlock()

	data, err := json.Marshal(struct {
		Command router.Command `json:"command"`
		Key     string         `json:"key"`
		Value   bool           `json:"value"`
	}{router.CommandToggle, key, value})
	if err != nil {
		return fmt.Errorf("marshal toggle: %w", err)
	}
	return b.write(data)
}

// PushLog appends a line to the dashboard log. The entry gets a fresh id
// and the local wall-clock time.
func (b *Bridge) PushLog(level model.LogLevel, message string) error {
	entry := model.LogEntry{
		ID:        "log-" + uuid.NewString(),
		Timestamp: time.Now().Format("15:04:05"),
		Level:     level,
		Message:   message,
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	return b.send(router.TypeLog, entry)
}

// PushFocus replaces the focus pane content.
func (b *Bridge) PushFocus(kind model.FocusKind, title, content string) error {
	f := model.FocusContent{Type: kind, Title: title, Content: content}
	if err := f.Validate(); err != nil {
		return err
	}
	return b.send(router.TypeFocus, f)
}

// PushTicker replaces the ticker items.
func (b *Bridge) PushTicker(items []model.TickerItem) error {
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("ticker[%d]: %w", i, err)
		}
	}
	if items == nil {
		items = []model.TickerItem{}
	}
	return b.send(router.TypeTicker, items)
}

func (b *Bridge) pushHostMetrics(ctx context.Context) {
	m, err := b.collector.Collect(ctx)
	if err != nil {
		b.logger.Debug("metrics collection failed", "error", err)
		b.count(func(s *Stats) { s.CollectErrors++ })
		return
	}
	if err := b.PushMetrics(m); err != nil {
		b.logger.Debug("metrics push failed", "error", err)
		return
	}
	b.count(func(s *Stats) { s.MetricsPushed++ })
}

func (b *Bridge) send(typ router.MessageType, payload any) error {
	data, err := json.Marshal(router.Message{Type: typ, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return b.write(data)
}

func (b *Bridge) write(data []byte) error {
	if err := b.client.Send(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// handleMessage applies relay broadcasts that concern the bridge: "full"
// seeds the local state and "state" merges into it.
func (b *Bridge) handleMessage(msg connection.Inbound) {
	switch router.MessageType(msg.Type) {
	case router.TypeFull:
		var snap model.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			b.logger.Debug("ignoring unreadable snapshot", "error", err)
			return
		}
		b.mu.Lock()
		b.state = snap.JarvisState
		b.mu.Unlock()
		b.logger.Debug("state seeded from relay", "mode", snap.JarvisState.Mode)

	case router.TypeState:
		var p model.StatePatch
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Validate() != nil {
			b.logger.Debug("ignoring unreadable state update")
			return
		}
		b.applyRemoteState(p)
	}
}

func (b *Bridge) applyRemoteState(p model.StatePatch) {
	b.mu.Lock()
	prev := b.state
	b.state = b.state.Merge(p)
	next := b.state
	b.mu.Unlock()

	if b.onStateChange == nil {
		return
	}
	for _, key := range model.ToggleKeys {
		was, _ := prev.Flag(key)
		now, _ := next.Flag(key)
		if was != now {
			b.logger.Debug("viewer toggle", "key", key, "value", now)
			b.onStateChange(key, now)
		}
	}
}

func (b *Bridge) count(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}
