// Package server exposes the session manager over HTTP: a REST API for
// sessions and policies, and the WebSocket stream gateway.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/gateway"
	"github.com/raphaelgruber/policy-debate/internal/metrics"
	"github.com/raphaelgruber/policy-debate/internal/session"
)

const maxBodySize = 1 << 20

// Policies is the policy catalog as seen by the API.
type Policies interface {
	ListPolicies(ctx context.Context) ([]debate.PolicySummary, error)
	Import(ctx context.Context, name, content string) (debate.Policy, error)
	Delete(ctx context.Context, id string) error
}

// Archive lists and purges stored sessions. Optional.
type Archive interface {
	ListSessions(ctx context.Context, limit int) ([]debate.SessionSnapshot, error)
	DeleteSession(ctx context.Context, id string) error
}

// Options configures a Server.
type Options struct {
	Version  string
	Manager  *session.Manager
	Policies Policies
	Archive  Archive
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	// PingInterval is the WebSocket keepalive interval; zero keeps the gateway default.
	PingInterval time.Duration
}

// Server wraps the HTTP handlers with lifecycle management.
type Server struct {
	opts    Options
	logger  *slog.Logger
	handler http.Handler
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{opts: opts, logger: opts.Logger.With("component", "http")}

	gwOpts := []gateway.Option{gateway.WithMetrics(opts.Metrics)}
	if opts.PingInterval > 0 {
		gwOpts = append(gwOpts, gateway.WithPingInterval(opts.PingInterval))
	}
	stream := gateway.New(opts.Manager, opts.Logger, gwOpts...)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.createSession)
	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("GET /sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSession)
	mux.HandleFunc("GET /sessions/{id}/messages", s.listMessages)
	mux.HandleFunc("GET /sessions/{id}/transcript", s.getTranscript)
	mux.HandleFunc("POST /sessions/{id}/commands", s.submitCommand)
	mux.Handle("GET /sessions/{id}/stream", stream)
	mux.Handle("GET /ws", stream)
	mux.HandleFunc("GET /policies", s.listPolicies)
	mux.HandleFunc("POST /policies", s.importPolicy)
	mux.HandleFunc("DELETE /policies/{id}", s.deletePolicy)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.handler = LoggingMiddleware(s.logger, mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on addr until ctx is done, then shuts the listener and every
// session down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", addr, "version", s.opts.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Sessions first: their streams close once the logs do.
		if err := s.opts.Manager.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("sessions did not stop in time", "error", err)
		}
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// CreateSessionRequest is the POST /sessions body.
type CreateSessionRequest struct {
	PolicyID string          `json:"policy_id"`
	Config   ConfigOverrides `json:"config"`
}

// ConfigOverrides mirrors debate.SystemConfig with human-readable durations.
// Omitted fields keep the server default; an explicit zero is kept.
type ConfigOverrides struct {
	MaxRoundsPerTopic      *int                  `json:"max_rounds_per_topic,omitempty"`
	MaxTopics              *int                  `json:"max_topics,omitempty"`
	GenerationTimeout      *Duration             `json:"generation_timeout,omitempty"`
	TurnDelay              *Duration             `json:"turn_delay,omitempty"`
	InterjectionResponders *int                  `json:"interjection_responders,omitempty"`
	InterjectionHold       *Duration             `json:"interjection_hold,omitempty"`
	BalanceThreshold       *int                  `json:"balance_threshold,omitempty"`
	ContextWindow          *int                  `json:"context_window,omitempty"`
	RetentionWindow        *Duration             `json:"retention_window,omitempty"`
	ControlPolicy          *debate.ControlPolicy `json:"control_policy,omitempty"`
}

func (c ConfigOverrides) overrides() debate.Overrides {
	return debate.Overrides{
		MaxRoundsPerTopic:      c.MaxRoundsPerTopic,
		MaxTopics:              c.MaxTopics,
		GenerationTimeout:      c.GenerationTimeout.duration(),
		TurnDelay:              c.TurnDelay.duration(),
		InterjectionResponders: c.InterjectionResponders,
		InterjectionHold:       c.InterjectionHold.duration(),
		BalanceThreshold:       c.BalanceThreshold,
		ContextWindow:          c.ContextWindow,
		RetentionWindow:        c.RetentionWindow.duration(),
		ControlPolicy:          c.ControlPolicy,
	}
}

// Duration accepts "30s" style strings or nanoseconds in JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or nanoseconds")
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Ptr returns a pointer to d, for filling ConfigOverrides.
func (d Duration) Ptr() *Duration {
	return &d
}

func (d *Duration) duration() *time.Duration {
	if d == nil {
		return nil
	}
	v := time.Duration(*d)
	return &v
}

// CreateSessionResponse is the POST /sessions reply.
type CreateSessionResponse struct {
	SessionID string                 `json:"session_id"`
	StreamURL string                 `json:"stream_url"`
	Session   debate.SessionSnapshot `json:"session"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	d, err := s.opts.Manager.Create(r.Context(), session.CreateRequest{
		PolicyID: req.PolicyID,
		Config:   req.Config.overrides(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: d.ID(),
		StreamURL: "/sessions/" + d.ID() + "/stream",
		Session:   d.Snapshot(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("archived") == "true" {
		if s.opts.Archive == nil {
			writeJSON(w, http.StatusOK, []debate.SessionSnapshot{})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := s.opts.Archive.ListSessions(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Manager.List())
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.Manager.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// deleteSession unregisters a finished session. With purge=true the archived
// copy is deleted too.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	purge := r.URL.Query().Get("purge") == "true"

	err := s.opts.Manager.Remove(id)
	if errors.Is(err, debate.ErrNotFound) && purge && s.opts.Archive != nil {
		err = nil
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if purge && s.opts.Archive != nil {
		if err := s.opts.Archive.DeleteSession(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: after must be a non-negative integer", debate.ErrProtocol))
			return
		}
		after = n
	}

	msgs, err := s.opts.Manager.Messages(r.Context(), r.PathValue("id"), after)
	if err != nil {
		writeError(w, err)
		return
	}
	frames := make([]gateway.Frame, 0, len(msgs))
	for _, m := range msgs {
		frames = append(frames, gateway.MessageFrame(m))
	}
	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	title, transcript, err := s.opts.Manager.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	io.WriteString(w, transcript.Markdown(title))
}

func (s *Server) submitCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %v", debate.ErrProtocol, err))
		return
	}

	cmd, err := gateway.ParseCommand(body, clientID(r), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Manager.Submit(r.PathValue("id"), cmd); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Policies.ListPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ImportPolicyRequest is the POST /policies body.
type ImportPolicyRequest struct {
	// Name is the file name the policy ID falls back to.
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (s *Server) importPolicy(w http.ResponseWriter, r *http.Request) {
	var req ImportPolicyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.opts.Policies.Import(r.Context(), req.Name, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, debate.PolicySummary{ID: p.ID, Title: p.Title, Source: req.Name})
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Policies.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats is the GET /stats payload.
type Stats struct {
	Version        string            `json:"version"`
	ActiveSessions int               `json:"active_sessions"`
	Metrics        *metrics.Snapshot `json:"metrics,omitempty"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	out := Stats{Version: s.opts.Version}
	for _, snap := range s.opts.Manager.List() {
		if !snap.State.IsTerminal() {
			out.ActiveSessions++
		}
	}
	if s.opts.Metrics != nil {
		snap := s.opts.Metrics.Snapshot()
		out.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, out)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", debate.ErrProtocol, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, debate.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, debate.ErrProtocol), errors.Is(err, debate.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, debate.ErrState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := debate.Code(err)
	if errors.Is(err, session.ErrNotController) {
		code = debate.CodeNotController
	}
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
