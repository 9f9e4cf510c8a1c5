package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cybergrid/hud-relay/internal/connection"
	"github.com/cybergrid/hud-relay/internal/health"
	"github.com/cybergrid/hud-relay/internal/model"
	"github.com/cybergrid/hud-relay/internal/state"
)

// Router applies inbound frames to the State Store and fans them out.
//
// Applying a frame and queueing its rebroadcast happen under one lock, and
// Attach takes the same lock, so every peer sees updates in the order they
// were applied, on top of the snapshot it received.
type Router struct {
	cfg      Config
	store    *state.Store
	registry *connection.Registry
	sink     health.Sink
	logger   *slog.Logger

	mu sync.Mutex // serializes apply + fan-out

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Message Router. A nil sink discards health readings.
func New(cfg Config, store *state.Store, registry *connection.Registry, sink health.Sink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = health.Discard
	}
	def := DefaultConfig()
	if cfg.NetworkStatus == "" {
		cfg.NetworkStatus = def.NetworkStatus
	}
	if cfg.EncryptionStatus == "" {
		cfg.EncryptionStatus = def.EncryptionStatus
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}

	return &Router{
		cfg:      cfg,
		store:    store,
		registry: registry,
		sink:     sink,
		logger:   logger,
	}
}

// Snapshot returns the current full-state payload.
func (r *Router) Snapshot() model.Snapshot {
	snap := r.store.Snapshot()
	snap.NetworkStatus = r.cfg.NetworkStatus
	snap.EncryptionStatus = r.cfg.EncryptionStatus
	return snap
}

// Attach queues a "full" snapshot to c and registers it.
func (r *Router) Attach(c connection.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(Message{Type: TypeFull, Data: r.Snapshot()})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.Enqueue(data); err != nil {
		return fmt.Errorf("send snapshot: %w", err)
	}
	r.registry.Add(c)
	return nil
}

// Detach unregisters c. Detaching twice is a no-op.
func (r *Router) Detach(c connection.Conn) bool {
	return r.registry.Remove(c)
}

// Route processes one inbound frame from c. Rejected frames return an
// error wrapping ErrMalformedFrame or ErrInvalidField and leave the store
// untouched.
func (r *Router) Route(ctx context.Context, from connection.Conn, data []byte) error {
	r.count(func(s *Stats) { s.MessagesReceived++ })

	frame, err := ParseFrame(data)
	if err != nil {
		if errors.Is(err, ErrInvalidField) {
			r.count(func(s *Stats) { s.InvalidFields++ })
		} else {
			r.count(func(s *Stats) { s.MalformedFrames++ })
		}
		return err
	}

	if hu, ok := frame.(HealthUpdateCommand); ok {
		r.forwardHealth(ctx, from, hu)
		return nil
	}

	r.mu.Lock()
	out, err := r.apply(frame, data)
	if err != nil {
		r.mu.Unlock()
		r.count(func(s *Stats) { s.InvalidFields++ })
		return err
	}
	delivered, failed := r.fanout(out, from)
	r.mu.Unlock()

	r.dropPeers(failed)

	r.count(func(s *Stats) {
		s.MessagesRouted++
		s.Deliveries += int64(delivered)
	})
	return nil
}

// Broadcast queues data to every open connection except the one given
// (which may be nil). It returns the number of peers reached.
func (r *Router) Broadcast(data []byte, except connection.Conn) int {
	r.mu.Lock()
	delivered, failed := r.fanout(data, except)
	r.mu.Unlock()

	r.dropPeers(failed)
	r.count(func(s *Stats) { s.Deliveries += int64(delivered) })
	return delivered
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// apply mutates the store and returns the bytes to rebroadcast.
// Must be called with r.mu held.
func (r *Router) apply(frame Frame, raw []byte) ([]byte, error) {
	switch f := frame.(type) {
	case MetricsUpdate:
		r.store.ApplyMetrics(f.Metrics)
		return raw, nil

	case StateUpdate:
		if _, err := r.store.ApplyState(f.Patch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
		}
		return raw, nil

	case LogUpdate:
		r.store.AppendLog(f.Entry)
		return raw, nil

	case FocusUpdate:
		r.store.ApplyFocus(f.Focus)
		return raw, nil

	case TickerUpdate:
		r.store.ApplyTicker(f.Items)
		return raw, nil

	case ToggleCommand:
		next, ok := r.store.Toggle(f.Key, f.Value)
		if !ok {
			return nil, fmt.Errorf("%w: toggle key %q", ErrInvalidField, f.Key)
		}
		data, err := json.Marshal(Message{Type: TypeState, Data: next})
		if err != nil {
			return nil, fmt.Errorf("marshal state: %w", err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("%w: unhandled frame %T", ErrMalformedFrame, frame)
}

// fanout queues data to a point-in-time view of the registry, skipping
// except. Peers whose queue rejects the frame are unregistered and returned
// so the caller can close them outside the lock.
func (r *Router) fanout(data []byte, except connection.Conn) (int, []connection.Conn) {
	var failed []connection.Conn
	delivered := 0

	for _, c := range r.registry.All() {
		if except != nil && c.ID() == except.ID() {
			continue
		}
		if err := c.Enqueue(data); err != nil {
			r.logger.Warn("dropping peer", "peer", c.ID(), "error", err)
			r.registry.Remove(c)
			failed = append(failed, c)
			continue
		}
		delivered++
	}
	return delivered, failed
}

func (r *Router) dropPeers(conns []connection.Conn) {
	if len(conns) == 0 {
		return
	}
	for _, c := range conns {
		c.Close()
	}
	r.count(func(s *Stats) { s.DroppedPeers += int64(len(conns)) })
}

// forwardHealth hands the reading to the sink. Nothing is rebroadcast.
func (r *Router) forwardHealth(ctx context.Context, from connection.Conn, hu HealthUpdateCommand) {
	reading := health.Reading{
		ID:         uuid.New(),
		Metric:     hu.Metric,
		Level:      hu.Level,
		ReceivedAt: time.Now(),
	}
	if from != nil {
		reading.PeerID = from.ID()
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.HealthTimeout)
	defer cancel()

	if err := r.sink.Record(ctx, reading); err != nil {
		r.logger.Warn("health sink failed", "metric", hu.Metric, "error", err)
		r.count(func(s *Stats) { s.HealthErrors++ })
		return
	}
	r.count(func(s *Stats) { s.HealthForwarded++ })
}

func (r *Router) count(fn func(*Stats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}
