package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/relaynode/internal/relay"
)

// Defaults for Options fields left at zero.
const (
	DefaultMaxMessageBytes = 16 << 20
	DefaultPingInterval    = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
)

// Options configures a Handler.
type Options struct {
	Registry        *relay.Registry
	Logger          *slog.Logger
	MaxMessageBytes int64
	// AllowedOrigins lists the Origin values accepted on upgrade. Empty or
	// "*" accepts any origin.
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// Handler upgrades HTTP requests to WebSocket connections and binds each
// connection to its own relay session.
type Handler struct {
	registry     *relay.Registry
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	readLimit    int64
	pingInterval time.Duration
	writeTimeout time.Duration

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewHandler creates a WebSocket handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		registry:     opts.Registry,
		logger:       opts.Logger,
		readLimit:    opts.MaxMessageBytes,
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		conns:        make(map[*conn]struct{}),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.readLimit <= 0 {
		h.readLimit = DefaultMaxMessageBytes
	}
	if h.pingInterval <= 0 {
		h.pingInterval = DefaultPingInterval
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = DefaultWriteTimeout
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    64 * 1024,
		WriteBufferSize:   4 * 1024,
		EnableCompression: false,
		CheckOrigin:       originChecker(opts.AllowedOrigins),
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		h.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &conn{
		ws:           ws,
		logger:       h.logger.With("remote_addr", r.RemoteAddr),
		remoteAddr:   r.RemoteAddr,
		pingInterval: h.pingInterval,
		writeTimeout: h.writeTimeout,
		done:         make(chan struct{}),
	}

	h.track(c)
	defer h.untrack(c)

	c.serve(h.registry, h.readLimit)
}

// Count returns the number of open connections.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll sends a going-away close frame to every open connection and
// closes it. Each connection stops its session as it unwinds.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Handler) track(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and browser requests whose origin is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// conn is one client connection and its session.
type conn struct {
	ws           *websocket.Conn
	logger       *slog.Logger
	remoteAddr   string
	session      *relay.Session
	pingInterval time.Duration
	writeTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	// restartReported is set once the client has been told that media is
	// dropped while the transcoder restarts. Cleared when the window ends.
	restartReported atomic.Bool
}

// serve runs the read loop. Frames are handled one at a time, in order.
func (c *conn) serve(registry *relay.Registry, readLimit int64) {
	c.session = registry.Open(c.remoteAddr, c.onNotice)
	c.logger = c.logger.With("session_id", c.session.ID())

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Connection handler panicked", "panic", r)
		}
		registry.Close(c.session)
		c.close(websocket.CloseNormalClosure, "")
		c.logger.Debug("Connection closed")
	}()

	pongWait := c.pingInterval * 2
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()

	c.logger.Info("Client connected")
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		// Any inbound frame proves the peer is alive
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(messageType, data)
	}
}

// handleFrame dispatches one frame. A panic is contained to the frame: the
// client gets a stream-error and the connection stays open.
func (c *conn) handleFrame(messageType int, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Frame handler panicked", "panic", r)
			c.reply(streamError(fmt.Errorf("internal error: %v", r)))
		}
	}()

	if isControl(messageType, data) {
		c.handleControl(data)
		return
	}

	if c.session.ProcessChunk(data) {
		return
	}
	if c.session.State() == relay.StateStarting {
		// One error per restart window, not one per chunk
		if c.restartReported.CompareAndSwap(false, true) {
			c.reply(Reply{Type: ReplyStreamError, Error: "transcoder restarting, media dropped"})
		} else {
			c.logger.Debug("Chunk dropped while transcoder restarts", "bytes", len(data))
		}
		return
	}
	c.reply(Reply{Type: ReplyStreamError, Error: "no active stream"})
}

func (c *conn) handleControl(data []byte) {
	msg, err := ParseControl(data)
	if err != nil {
		c.logger.Warn("Rejected control message", "error", err)
		c.reply(streamError(err))
		return
	}

	switch msg.Action {
	case ActionStart:
		c.logger.Info("Start requested", "destination", msg.Destination, "has_audio", msg.HasAudio)
		streamID, err := c.session.Start(msg.Destination)
		if err != nil {
			c.logger.Error("Failed to start stream", "action", msg.Action, "destination", msg.Destination, "error", err)
			c.reply(streamError(err))
			return
		}
		c.restartReported.Store(false)
		c.reply(streamReady(streamID))

	case ActionSwitch:
		c.logger.Info("Switch requested", "destination", msg.Destination, "has_audio", msg.HasAudio)
		streamID, err := c.session.Switch(msg.Destination)
		if err != nil {
			c.logger.Error("Failed to switch stream", "action", msg.Action, "destination", msg.Destination, "error", err)
			c.reply(streamError(err))
			return
		}
		c.restartReported.Store(false)
		c.reply(streamReady(streamID))

	case ActionStop:
		c.logger.Info("Stop requested")
		c.session.Stop()
		c.reply(streamStopped())
	}
}

// onNotice turns asynchronous session events into replies.
func (c *conn) onNotice(n relay.Notice) {
	switch n.Kind {
	case relay.NoticeDrainFailed:
		c.reply(streamError(fmt.Errorf("write to transcoder failed, queued media dropped: %w", n.Err)))
	case relay.NoticeRestartsExhausted:
		c.restartReported.Store(false)
		c.reply(streamError(n.Err))
	case relay.NoticeEnded:
		c.reply(streamStopped())
	case relay.NoticeRestarted:
		c.restartReported.Store(false)
		c.logger.Info("Transcoder restarted", "stream_id", n.StreamID, "destination", n.Destination, "attempt", n.Attempt)
	}
}

// reply sends a status frame. Failures are logged; the read loop notices a
// broken connection on its own.
func (c *conn) reply(r Reply) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteJSON(r); err != nil {
		c.logger.Debug("Failed to send reply", "type", r.Type, "error", err)
	}
}

// keepalive pings the client until the connection closes.
func (c *conn) keepalive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}

// close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *conn) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.done)
		c.writeMu.Unlock()

		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		_ = c.ws.Close()
	})
}

func (c *conn) logReadError(err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Info("Client disconnected")
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeds read limit, closing connection", "error", err)
	default:
		c.logger.Warn("Connection error", "error", err)
	}
}
