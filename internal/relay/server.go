package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cybergrid/hud-relay/internal/connection"
	"github.com/cybergrid/hud-relay/internal/router"
	"github.com/cybergrid/hud-relay/internal/state"
	"github.com/cybergrid/hud-relay/internal/version"
)

// Config holds Relay Server configuration.
type Config struct {
	Addr       string // Default: ":5000"
	WSPath     string // Default: "/ws"
	HealthPath string // Default: "/api/health"
	StatsPath  string // Empty disables the endpoint

	Peer connection.PeerConfig
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:       ":5000",
		WSPath:     "/ws",
		HealthPath: "/api/health",
		StatsPath:  "/debug/stats",
		Peer:       connection.DefaultPeerConfig(),
	}
}

// Server accepts viewer connections and serves the HTTP endpoints.
type Server struct {
	cfg      Config
	router   *router.Router
	registry *connection.Registry
	store    *state.Store
	logger   *slog.Logger

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	httpSrv  *http.Server

	// Viewer handlers in flight
	handlers sync.WaitGroup

	mu       sync.Mutex
	peers    map[*connection.Peer]struct{} // upgraded, not yet finished
	accepted int64
	closing  bool
}

// New creates a Relay Server.
func New(cfg Config, rt *router.Router, registry *connection.Registry, store *state.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.WSPath == "" {
		cfg.WSPath = def.WSPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = def.HealthPath
	}

	s := &Server{
		cfg:      cfg,
		router:   rt,
		registry: registry,
		store:    store,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Viewers are not authenticated; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:   http.NewServeMux(),
		peers: make(map[*connection.Peer]struct{}),
	}

	s.mux.HandleFunc(cfg.WSPath, s.handleWS)
	s.mux.HandleFunc(cfg.HealthPath, s.handleHealth)
	if cfg.StatsPath != "" {
		s.mux.HandleFunc(cfg.StatsPath, s.handleStats)
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe listens on the configured address. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("relay listening", "addr", s.cfg.Addr, "ws_path", s.cfg.WSPath)
	return s.httpSrv.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("relay listening", "addr", ln.Addr().String(), "ws_path", s.cfg.WSPath)
	return s.httpSrv.Serve(ln)
}

// Shutdown stops accepting connections, closes every viewer and waits for
// their handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.httpSrv.Shutdown(ctx)

	// Hijacked connections are not tracked by http.Server. Peers that
	// upgrade from here on are closed by track.
	s.mu.Lock()
	peers := make([]*connection.Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		s.router.Detach(p)
		p.Close()
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("relay stopped")
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.handlers.Add(1)
	s.accepted++
	s.mu.Unlock()
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	peer := connection.NewPeer(conn, s.cfg.Peer, s.logger)
	peer.Start()
	defer peer.Wait()
	defer peer.Close()

	if !s.track(peer) {
		return
	}
	defer s.untrack(peer)

	logger := s.logger.With("peer", peer.ID().String())

	if err := s.router.Attach(peer); err != nil {
		logger.Warn("failed to attach viewer", "error", err)
		return
	}
	logger.Info("viewer connected", "remote", r.RemoteAddr, "viewers", s.registry.Len())

	ctx := r.Context()
	err = peer.ReadLoop(func(msg connection.TimestampedMessage) {
		if err := s.router.Route(ctx, peer, msg.Data); err != nil {
			logRouteError(logger, err)
		}
	})

	s.router.Detach(peer)
	if err != nil {
		logger.Info("viewer disconnected", "error", err, "viewers", s.registry.Len())
		return
	}
	logger.Info("viewer disconnected", "viewers", s.registry.Len())
}

// track records an upgraded peer so Shutdown can close it. Once Shutdown has
// started it closes the peer instead and reports false.
func (s *Server) track(p *connection.Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		p.Close()
		return false
	}
	s.peers[p] = struct{}{}
	return true
}

func (s *Server) untrack(p *connection.Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

// logRouteError logs malformed frames at warn and ignored fields at debug.
func logRouteError(logger *slog.Logger, err error) {
	if errors.Is(err, router.ErrInvalidField) {
		logger.Debug("ignoring frame", "reason", err)
		return
	}
	logger.Warn("dropping malformed frame", "error", err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	accepted := s.accepted
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"version":  version.Get(),
		"viewers":  s.registry.Len(),
		"accepted": accepted,
		"router":   s.router.Stats(),
		"store":    s.store.Stats(),
	})
}
