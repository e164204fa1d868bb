// Package gateway streams session logs to WebSocket viewers and forwards their
// control frames to the session.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/messagelog"
	"github.com/raphaelgruber/policy-debate/internal/metrics"
	"github.com/raphaelgruber/policy-debate/internal/session"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 8 << 10
	directCapacity = 16
)

// Sessions is the slice of the session manager the gateway needs.
type Sessions interface {
	Get(id string) (*session.Driver, error)
	Submit(id string, cmd debate.ControlCommand) error
}

// Handler upgrades stream requests and serves one connection per viewer.
type Handler struct {
	sessions     Sessions
	metrics      *metrics.Collector
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	now          func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithPingInterval sets the keepalive interval. The read deadline is twice the
// interval.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) { h.pingInterval = d }
}

// WithMetrics counts connections, slow consumers and protocol errors.
func WithMetrics(m *metrics.Collector) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a Handler.
func New(sessions Sessions, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		sessions: sessions,
		logger:   logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // viewers are served from other origins in dev
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		pingInterval: 30 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP handles GET /sessions/{id}/stream and GET /ws?session_id=.
// last_seen resumes after a sequence; client_id identifies the viewer for
// control and targeted errors and defaults to a fresh UUID.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}

	var lastSeen int64
	if v := r.URL.Query().Get("last_seen"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "last_seen must be a non-negative integer", http.StatusBadRequest)
			return
		}
		lastSeen = n
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &conn{
		ws:       ws,
		clientID: clientID,
		h:        h,
		logger:   h.logger.With("session_id", sessionID, "client_id", clientID),
		direct:   make(chan Frame, directCapacity),
	}

	d, err := h.sessions.Get(sessionID)
	if err != nil {
		c.write(ErrorFrame(0, debate.Code(err), "unknown session "+sessionID))
		c.close(websocket.ClosePolicyViolation, "unknown session")
		return
	}

	h.metrics.Inc(metrics.CounterConnections)
	c.logger.Debug("viewer connected", "last_seen", lastSeen)
	c.serve(r.Context(), sessionID, d.Log(), lastSeen)
	c.logger.Debug("viewer disconnected")
}

// conn is one viewer connection. Only the writer loop writes to ws.
type conn struct {
	ws       *websocket.Conn
	clientID string
	h        *Handler
	logger   *slog.Logger
	direct   chan Frame
}

func (c *conn) serve(ctx context.Context, sessionID string, log *messagelog.Log, lastSeen int64) {
	backfill, sub := log.Subscribe(lastSeen)
	defer sub.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readLoop(sessionID, log)
	}()

	for _, m := range backfill {
		if err := c.write(MessageFrame(m)); err != nil {
			return
		}
	}

	ping := time.NewTicker(c.h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				c.ended(sub.Reason(), log.Last())
				return
			}
			if ev.Target != "" && ev.Target != c.clientID {
				continue
			}
			if err := c.write(EventFrame(ev)); err != nil {
				return
			}

		case f := <-c.direct:
			if err := c.write(f); err != nil {
				return
			}

		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-readDone:
			return

		case <-ctx.Done():
			return
		}
	}
}

// ended tells the viewer why the stream stopped and closes the connection.
func (c *conn) ended(reason string, last int64) {
	switch reason {
	case messagelog.ReasonSlowConsumer:
		c.h.metrics.Inc(metrics.CounterSlowConsumers)
		c.logger.Warn("dropping slow viewer")
		c.write(ErrorFrame(last, debate.CodeSlowConsumer, "viewer fell behind; reconnect with last_seen to resume"))
		c.close(websocket.CloseTryAgainLater, "slow consumer")
	default:
		c.close(websocket.CloseNormalClosure, "session ended")
	}
}

// readLoop forwards control frames until the viewer goes away.
func (c *conn) readLoop(sessionID string, log *messagelog.Log) {
	readWait := 2 * c.h.pingInterval
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("viewer read failed", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readWait))

		cmd, err := ParseCommand(data, c.clientID, c.h.now().UTC())
		if err == nil {
			err = c.h.sessions.Submit(sessionID, cmd)
		}
		switch {
		case err == nil:
		case errors.Is(err, session.ErrNotController):
			// The driver already addressed a not_controller error to this client.
		default:
			if errors.Is(err, debate.ErrProtocol) {
				c.h.metrics.Inc(metrics.CounterProtocolErrors)
			}
			c.reply(ErrorFrame(log.Last(), debate.Code(err), err.Error()))
		}
	}
}

// reply queues a frame for this viewer only. It drops the frame rather than
// block the reader when the writer is behind.
func (c *conn) reply(f Frame) {
	select {
	case c.direct <- f:
	default:
		c.logger.Warn("dropping reply to busy viewer", "code", f.Code)
	}
}

func (c *conn) write(f Frame) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		c.logger.Debug("viewer write failed", "error", err)
		return err
	}
	return nil
}

func (c *conn) close(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
