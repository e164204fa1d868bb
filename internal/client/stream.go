package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/gateway"
)

// maxReconnects bounds how often a stream redials after the server dropped it
// as a slow consumer.
const maxReconnects = 5

// Stream is a live view of a session. Frames is closed when the session ends,
// the connection fails or Close is called; Err reports why.
type Stream struct {
	Frames <-chan gateway.Frame

	frames    chan gateway.Frame
	client    *Client
	sessionID string
	cancel    context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	lastSeen int64
	err      error
}

// Watch opens a WebSocket stream on a session, replaying messages after
// lastSeen. Dial errors are returned directly.
func (c *Client) Watch(ctx context.Context, sessionID string, lastSeen int64) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		frames:    make(chan gateway.Frame, 64),
		client:    c,
		sessionID: sessionID,
		cancel:    cancel,
		lastSeen:  lastSeen,
	}
	s.Frames = s.frames

	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	s.conn = conn

	// Handle context cancellation in a separate goroutine
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
	}()

	go s.run(ctx)
	return s, nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := s.client.baseURL
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)

	u, err := url.Parse(endpoint + "/sessions/" + url.PathEscape(s.sessionID) + "/stream")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", s.client.clientID)
	s.mu.Lock()
	if s.lastSeen > 0 {
		q.Set("last_seen", strconv.FormatInt(s.lastSeen, 10))
	}
	s.mu.Unlock()
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Code: debate.CodeConnection, Message: err.Error()}
		}
		return nil, fmt.Errorf("%w: websocket connect: %w", debate.ErrConnection, err)
	}
	return conn, nil
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.frames)
	defer s.cancel()

	reconnects := 0
	for {
		lastErr, err := s.read(ctx)
		if ctx.Err() != nil {
			return
		}

		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			s.fail(fmt.Errorf("%w: %w", debate.ErrConnection, err))
			return
		}

		switch closeErr.Code {
		case websocket.CloseNormalClosure:
			return
		case websocket.CloseTryAgainLater:
			if reconnects >= maxReconnects {
				s.fail(fmt.Errorf("%w: too many reconnects", debate.ErrConnection))
				return
			}
			reconnects++
			conn, err := s.dial(ctx)
			if err != nil {
				s.fail(err)
				return
			}
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
		default:
			if lastErr != nil {
				s.fail(&APIError{Code: lastErr.Code, Message: lastErr.Message})
			} else {
				s.fail(fmt.Errorf("%w: %w", debate.ErrConnection, closeErr))
			}
			return
		}
	}
}

// read forwards frames until the connection fails. It returns the last error
// frame seen, which explains a policy close.
func (s *Stream) read(ctx context.Context) (*gateway.Frame, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	defer conn.Close()

	var lastErr *gateway.Frame
	for {
		var f gateway.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return lastErr, err
		}

		switch f.Type {
		case string(debate.EventMessage):
			s.mu.Lock()
			if f.Sequence > s.lastSeen {
				s.lastSeen = f.Sequence
			}
			s.mu.Unlock()
		case string(debate.EventError):
			ef := f
			lastErr = &ef
		}

		select {
		case s.frames <- f:
		case <-ctx.Done():
			return lastErr, ctx.Err()
		}
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Send writes a control command on the stream.
func (s *Stream) Send(cmd gateway.CommandFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("%w: stream closed", debate.ErrConnection)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%w: send command: %w", debate.ErrConnection, err)
	}
	return nil
}

// LastSeen returns the highest message sequence received.
func (s *Stream) LastSeen() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Err returns why the stream stopped. It is nil after a normal end or Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream.
func (s *Stream) Close() {
	s.cancel()
}
