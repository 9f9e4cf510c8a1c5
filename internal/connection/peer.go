package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Peer is one accepted viewer connection. Outbound frames go through a
// bounded FIFO drained by a single writer goroutine, so frames reach the
// viewer in the order they were enqueued.
type Peer struct {
	id     uuid.UUID
	cfg    PeerConfig
	conn   *websocket.Conn
	logger *slog.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	connectedAt time.Time
	remoteAddr  string

	// Stats
	mu       sync.Mutex
	sent     int64
	received int64
}

// PeerStats contains per-connection counters.
type PeerStats struct {
	ID          uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time
	Sent        int64
	Received    int64
	Queued      int
}

// NewPeer wraps an upgraded connection. Call Start to begin writing.
func NewPeer(conn *websocket.Conn, cfg PeerConfig, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBufferSize < 1 {
		cfg.SendBufferSize = DefaultPeerConfig().SendBufferSize
	}

	id := uuid.New()
	return &Peer{
		id:          id,
		cfg:         cfg,
		conn:        conn,
		logger:      logger.With("peer", id.String()),
		send:        make(chan []byte, cfg.SendBufferSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
		remoteAddr:  conn.RemoteAddr().String(),
	}
}

// ID returns the peer's identity.
func (p *Peer) ID() uuid.UUID {
	return p.id
}

// Start launches the writer goroutine.
func (p *Peer) Start() {
	p.wg.Add(1)
	go p.writeLoop()
}

// Enqueue schedules data for delivery. It never blocks: a full queue
// returns ErrSendBufferFull and the caller is expected to drop the peer.
func (p *Peer) Enqueue(data []byte) error {
	select {
	case <-p.done:
		return ErrAlreadyClosed
	default:
	}

	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return ErrAlreadyClosed
	default:
		return ErrSendBufferFull
	}
}

// ReadLoop reads text frames and hands each one to handle, in order, until
// the connection closes. A normal close returns nil.
func (p *Peer) ReadLoop(handle func(TimestampedMessage)) error {
	if p.cfg.MaxMessageSize > 0 {
		p.conn.SetReadLimit(p.cfg.MaxMessageSize)
	}
	if p.cfg.PongWait > 0 {
		p.conn.SetReadDeadline(time.Now().Add(p.cfg.PongWait))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(p.cfg.PongWait))
		})
	}

	for {
		msgType, data, err := p.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-p.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return nil
			}
			return err
		}

		if p.cfg.PongWait > 0 {
			p.conn.SetReadDeadline(receivedAt.Add(p.cfg.PongWait))
		}

		if msgType != websocket.TextMessage {
			p.logger.Warn("dropping non-text frame", "type", msgType, "bytes", len(data))
			continue
		}

		p.mu.Lock()
		p.received++
		p.mu.Unlock()

		handle(TimestampedMessage{Data: data, ReceivedAt: receivedAt})
	}
}

// Close stops the writer and closes the connection. Safe to call more than once.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

// Done is closed once the peer has been closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the writer goroutine has exited.
func (p *Peer) Wait() {
	p.wg.Wait()
}

// Stats returns current counters.
func (p *Peer) Stats() PeerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeerStats{
		ID:          p.id,
		RemoteAddr:  p.remoteAddr,
		ConnectedAt: p.connectedAt,
		Sent:        p.sent,
		Received:    p.received,
		Queued:      len(p.send),
	}
}

// writeLoop is the only goroutine that writes data frames to the connection.
func (p *Peer) writeLoop() {
	defer p.wg.Done()

	var pings <-chan time.Time
	if p.cfg.PingInterval > 0 {
		ticker := time.NewTicker(p.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-p.done:
			return

		case data := <-p.send:
			if p.cfg.WriteTimeout > 0 {
				p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("write failed, closing peer", "error", err)
				p.Close()
				return
			}
			p.mu.Lock()
			p.sent++
			p.mu.Unlock()

		case <-pings:
			wait := p.cfg.WriteTimeout
			if wait <= 0 {
				wait = time.Second
			}
			if err := p.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(wait)); err != nil {
				p.logger.Debug("ping failed, closing peer", "error", err)
				p.Close()
				return
			}
		}
	}
}
