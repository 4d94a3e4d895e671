package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/ratelimit"
	"github.com/cwrk-planet/meeting-service/internal/transport/origin"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

const rateLimitedText = "too many requests, please slow down"

// Dispatcher consumes client events for one connection.
type Dispatcher interface {
	Handle(ctx context.Context, connID, event string, raw json.RawMessage)
	Disconnect(ctx context.Context, connID string)
	Touch(ctx context.Context, connID string)
}

type Options struct {
	Origins *origin.Matcher
	// Limiter meters events per remote address.
	Limiter *ratelimit.Limiter
	// StreamEvents bypass Limiter and are metered per connection by
	// StreamLimiter instead; nil StreamLimiter leaves them unmetered.
	StreamEvents  []string
	StreamLimiter *ratelimit.Limiter
	PingEvery     time.Duration
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	events   Dispatcher
	limiter  *ratelimit.Limiter

	stream        map[string]struct{}
	streamLimiter *ratelimit.Limiter

	pingEvery time.Duration
	wg        sync.WaitGroup
}

func NewServer(hub *Hub, events Dispatcher, opts Options) *Server {
	s := &Server{
		hub:       hub,
		events:    events,
		limiter:   opts.Limiter,
		pingEvery: opts.PingEvery,

		stream:        make(map[string]struct{}, len(opts.StreamEvents)),
		streamLimiter: opts.StreamLimiter,
	}
	for _, ev := range opts.StreamEvents {
		s.stream[ev] = struct{}{}
	}
	if s.pingEvery <= 0 {
		s.pingEvery = 25 * time.Second
	}
	matcher := opts.Origins
	if matcher == nil {
		matcher = origin.NewMatcher(nil)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || matcher.Allow(o)
		},
	}
	return s
}

// WS endpoint: GET /ws
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the HTTP error
		slog.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := newWsConn(conn, uuid.NewString())
	addr := remoteHost(r.RemoteAddr)
	ctx := context.WithoutCancel(r.Context())

	s.hub.Add(c)
	c.Send(Message{Type: TypeConnected, Payload: ConnectedPayload{SocketID: c.id}})
	slog.Debug("ws connected", "conn", c.id, "remote", addr)

	go s.writeLoop(c)
	s.readLoop(ctx, c, addr)

	s.hub.Remove(c.id)
	if s.streamLimiter != nil {
		s.streamLimiter.Forget(c.id)
	}
	s.events.Disconnect(ctx, c.id)
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "conn", c.id, "err", err)
	}
	slog.Debug("ws disconnected", "conn", c.id)
}

// Wait blocks until every handler returned; used on shutdown after the
// HTTP server stopped accepting.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) readLoop(ctx context.Context, c *wsConn, addr string) {
	defer func() { _ = c.Close() }()

	pongWait := 2 * s.pingEvery
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.events.Touch(ctx, c.id)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read failed", "conn", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		malformed := json.Unmarshal(data, &env) != nil || env.Type == ""

		if !s.allow(c.id, addr, env.Type, malformed) {
			slog.Warn("ws rate limited", "conn", c.id, "remote", addr, "event", env.Type)
			c.Send(Message{Type: TypeError, Payload: ErrorPayload{Message: rateLimitedText}})
			c.flushAndClose()
			return
		}
		if malformed {
			c.Send(Message{Type: TypeError, Payload: ErrorPayload{Message: "malformed frame"}})
			continue
		}
		s.events.Handle(ctx, c.id, env.Type, env.Payload)
	}
}

// allow picks the bucket for one frame: stream events spend the connection's
// stream bucket, everything else the address bucket.
func (s *Server) allow(connID, addr, event string, malformed bool) bool {
	if !malformed {
		if _, ok := s.stream[event]; ok {
			return s.streamLimiter == nil || s.streamLimiter.Allow(connID)
		}
	}
	return s.limiter == nil || s.limiter.Allow(addr)
}

func (s *Server) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				slog.Debug("ws write failed", "conn", c.id, "err", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			c.drain()
			return
		}
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// --- connection ---

type wsConn struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	connOnce  sync.Once
	flushing  bool
	mu        sync.Mutex
}

func newWsConn(c *websocket.Conn, id string) *wsConn {
	return &wsConn{
		id:     id,
		conn:   c,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send encodes and enqueues msg. A full buffer means the peer cannot keep
// up; the connection is closed rather than blocking the room.
func (c *wsConn) Send(msg Message) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws encode failed", "conn", c.id, "type", msg.Type, "err", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		slog.Warn("ws send buffer full, closing", "conn", c.id)
		c.closeLocked()
		return false
	}
}

// flushAndClose lets the writer deliver what is queued, then closes.
func (c *wsConn) flushAndClose() {
	c.mu.Lock()
	c.flushing = true
	c.closeLocked()
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
}

// drain writes queued frames during a graceful close.
func (c *wsConn) drain() {
	c.mu.Lock()
	flushing := c.flushing
	c.mu.Unlock()
	if !flushing {
		return
	}
	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		default:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, rateLimitedText),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsConn) closeLocked() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Close signals the writer and tears down the socket.
func (c *wsConn) Close() error {
	c.mu.Lock()
	c.closeLocked()
	flushing := c.flushing
	c.mu.Unlock()
	if flushing {
		select {
		case <-c.done:
		case <-time.After(writeWait):
		}
	}
	var err error
	c.connOnce.Do(func() { err = c.conn.Close() })
	return err
}
