package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientStats contains Client counters.
type ClientStats struct {
	Connected   bool
	Dials       int64
	Connects    int64
	Disconnects int64
	Received    int64
	Undecodable int64
	Sent        int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithConnectHandler registers fn to run on the Run goroutine each time a
// connection is established, before any message is read. Send works from fn.
func WithConnectHandler(fn func()) ClientOption {
	return func(c *Client) {
		c.onConnect = fn
	}
}

// Client keeps one connection to the relay open for producers and console
// viewers. Run dials, reads and redials; Send writes on whatever connection
// is current.
type Client struct {
	cfg       ClientConfig
	logger    *slog.Logger
	onConnect func()

	mu    sync.Mutex
	conn  *websocket.Conn // nil while disconnected
	stats ClientStats

	writeMu sync.Mutex
}

// NewClient creates a Client. Zero config fields take their defaults.
func NewClient(cfg ClientConfig, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RedialDelay <= 0 {
		cfg.RedialDelay = def.RedialDelay
	}
	if cfg.MaxRedialDelay < cfg.RedialDelay {
		cfg.MaxRedialDelay = max(def.MaxRedialDelay, cfg.RedialDelay)
	}

	c := &Client{cfg: cfg, logger: logger.With("url", cfg.URL)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects to the relay and hands every decoded message to handle, in
// arrival order, on the calling goroutine. After a dial failure or a lost
// connection it waits and redials, doubling the wait up to MaxRedialDelay;
// a successful connection resets the wait. Run returns ctx.Err().
func (c *Client) Run(ctx context.Context, handle func(Inbound)) error {
	wait := c.cfg.RedialDelay

	for {
		connected, err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			wait = c.cfg.RedialDelay
		}

		c.logger.Warn("relay connection lost, redialing", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait = min(wait*2, c.cfg.MaxRedialDelay)
	}
}

// session serves one connection. connected reports whether the dial
// succeeded.
func (c *Client) session(ctx context.Context, handle func(Inbound)) (connected bool, err error) {
	c.count(func(s *ClientStats) { s.Dials++ })

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.stats.Connects++
	c.mu.Unlock()
	defer c.disconnect(conn)

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})
	defer stop()

	if c.cfg.IdleTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		conn.SetPingHandler(func(data string) error {
			conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
			err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})
	}

	c.logger.Info("connected to relay")
	if c.onConnect != nil {
		c.onConnect()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return true, fmt.Errorf("%w for %v", ErrIdleTimeout, c.cfg.IdleTimeout)
			}
			return true, err
		}
		receivedAt := time.Now()
		if c.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(receivedAt.Add(c.cfg.IdleTimeout))
		}

		msg, err := decodeInbound(data, receivedAt)
		if err != nil {
			c.logger.Debug("ignoring unreadable relay message", "error", err)
			c.count(func(s *ClientStats) { s.Undecodable++ })
			continue
		}
		c.count(func(s *ClientStats) { s.Received++ })
		handle(msg)
	}
}

func (c *Client) disconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.stats.Disconnects++
	c.mu.Unlock()
	conn.Close()
}

// decodeInbound splits a relay frame into its "type" and "data" members,
// matched by exact name.
func decodeInbound(data []byte, receivedAt time.Time) (Inbound, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return Inbound{}, err
	}
	var typ string
	if err := json.Unmarshal(members["type"], &typ); err != nil || typ == "" {
		return Inbound{}, errors.New("message without type")
	}
	return Inbound{
		Type:       typ,
		Data:       members["data"],
		Raw:        data,
		ReceivedAt: receivedAt,
	}, nil
}

// Send writes one text frame on the current connection. It returns
// ErrNotConnected while the relay is unreachable; nothing is queued.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.count(func(s *ClientStats) { s.Sent++ })
	return nil
}

// IsConnected reports whether a relay connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Stats returns current counters.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Connected = c.conn != nil
	return st
}

func (c *Client) count(fn func(*ClientStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
