// Package session runs debate sessions: one driver goroutine per session and a
// manager that creates, finds and retires them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/messagelog"
	"github.com/raphaelgruber/policy-debate/internal/metrics"
	"github.com/raphaelgruber/policy-debate/internal/models"
)

// Dependencies are the collaborators a Manager needs. Only Policies and
// Generator are required.
type Dependencies struct {
	Policies     debate.PolicySource
	Stakeholders debate.StakeholderIdentifier
	Topics       debate.TopicExtractor
	Generator    debate.Generator
	Store        Store
	Metrics      *metrics.Collector
	Logger       *slog.Logger
	// Config holds the server-wide defaults; per-session overrides are merged on
	// top. A config that already validates is used as is, so explicit zeros
	// survive. A partial one is filled from the built-in defaults.
	Config debate.SystemConfig
	// BufferSize is the per-subscriber event buffer of every message log.
	BufferSize int
	Now        func() time.Time
}

// CreateRequest starts a session.
type CreateRequest struct {
	PolicyID string
	// Config overrides individual defaults; nil fields keep the server default.
	Config debate.Overrides
}

// Manager is the session registry. Lookups are lock-free reads of a
// copy-on-write map; only create and remove take the mutex.
type Manager struct {
	deps   Dependencies
	cfg    debate.SystemConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions atomic.Pointer[map[string]*Driver]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager validates deps and returns a manager whose sessions live until
// Shutdown.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Policies == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: policy source and generator are required", debate.ErrConfiguration)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config
	if cfg.Validate() != nil {
		cfg = cfg.WithDefaults(debate.DefaultSystemConfig())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	empty := map[string]*Driver{}
	m.sessions.Store(&empty)
	return m, nil
}

// Defaults returns the server-wide session configuration.
func (m *Manager) Defaults() debate.SystemConfig {
	return m.cfg
}

// Create loads the policy, resolves stakeholders and topics, and starts a new
// session. Every failure is reported before anything is registered.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Driver, error) {
	if strings.TrimSpace(req.PolicyID) == "" {
		return nil, fmt.Errorf("%w: policy id is required", debate.ErrConfiguration)
	}
	cfg := req.Config.Apply(m.cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy, err := m.deps.Policies.LoadPolicy(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(policy.Text) == "" {
		return nil, fmt.Errorf("%w: policy %s has no text", debate.ErrConfiguration, req.PolicyID)
	}

	profiles := policy.Stakeholders
	if len(profiles) == 0 && m.deps.Stakeholders != nil {
		if profiles, err = m.deps.Stakeholders.IdentifyStakeholders(ctx, policy.Text); err != nil {
			return nil, fmt.Errorf("%w: identify stakeholders: %v", debate.ErrConfiguration, err)
		}
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: policy %s has no stakeholders", debate.ErrConfiguration, req.PolicyID)
	}

	drafts := policy.Topics
	if len(drafts) == 0 && m.deps.Topics != nil {
		if drafts, err = m.deps.Topics.ExtractTopics(ctx, policy.Text, profiles); err != nil {
			return nil, fmt.Errorf("%w: extract topics: %v", debate.ErrConfiguration, err)
		}
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: policy %s has no topics", debate.ErrConfiguration, req.PolicyID)
	}

	agents := BuildAgents(profiles)
	topics := BuildTopics(drafts, profiles, agents)
	if cfg.MaxTopics > 0 && len(topics) > cfg.MaxTopics {
		topics = topics[:cfg.MaxTopics]
	}

	title := policy.Title
	if title == "" {
		title = policy.ID
	}
	d, err := newDriver(driverParams{
		ID:           uuid.NewString(),
		PolicyID:     policy.ID,
		PolicyTitle:  title,
		Config:       cfg,
		Stakeholders: agents,
		Topics:       topics,
		Generator:    m.deps.Generator,
		Store:        m.deps.Store,
		Metrics:      m.deps.Metrics,
		Logger:       m.logger,
		Now:          m.deps.Now,
		BufferSize:   m.deps.BufferSize,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	next := m.copySessions()
	next[d.ID()] = d
	m.sessions.Store(&next)
	m.mu.Unlock()

	d.start(m.ctx)
	m.deps.Metrics.Inc(metrics.CounterSessionsStarted)
	m.logger.Info("session created", "session_id", d.ID(), "policy_id", policy.ID, "stakeholders", len(agents), "topics", len(topics))
	return d, nil
}

// copySessions returns a mutable copy of the registry. Caller must hold mu.
func (m *Manager) copySessions() map[string]*Driver {
	cur := *m.sessions.Load()
	next := make(map[string]*Driver, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Driver, error) {
	d, ok := (*m.sessions.Load())[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", debate.ErrNotFound, id)
	}
	return d, nil
}

// Snapshot returns a live session's state, falling back to the store for
// sessions that were already removed.
func (m *Manager) Snapshot(ctx context.Context, id string) (debate.SessionSnapshot, error) {
	if d, err := m.Get(id); err == nil {
		return d.Snapshot(), nil
	}
	if m.deps.Store == nil {
		return debate.SessionSnapshot{}, fmt.Errorf("%w: session %s", debate.ErrNotFound, id)
	}
	return m.deps.Store.LoadSession(ctx, id)
}

// List returns snapshots of all registered sessions, newest first.
func (m *Manager) List() []debate.SessionSnapshot {
	cur := *m.sessions.Load()
	out := make([]debate.SessionSnapshot, 0, len(cur))
	for _, d := range cur {
		out = append(out, d.Snapshot())
	}
	slices.SortFunc(out, func(a, b debate.SessionSnapshot) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Submit routes a command to a live session.
func (m *Manager) Submit(id string, cmd debate.ControlCommand) error {
	d, err := m.Get(id)
	if err != nil {
		return err
	}
	return d.Submit(cmd)
}

// Messages returns the messages after afterSeq, from the live log or the store.
func (m *Manager) Messages(ctx context.Context, id string, afterSeq int64) ([]debate.Message, error) {
	if d, err := m.Get(id); err == nil {
		return d.Log().Since(afterSeq), nil
	}
	if m.deps.Store == nil {
		return nil, fmt.Errorf("%w: session %s", debate.ErrNotFound, id)
	}
	if _, err := m.deps.Store.LoadSession(ctx, id); err != nil {
		return nil, err
	}
	msgs, err := m.deps.Store.LoadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, msg := range msgs {
		if msg.Sequence > afterSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Transcript returns the session title and its transcript. Stored sessions are
// replayed through a message log so a damaged history is reported, not rendered.
func (m *Manager) Transcript(ctx context.Context, id string) (string, debate.Transcript, error) {
	if d, err := m.Get(id); err == nil {
		return d.PolicyTitle(), debate.NewTranscript(d.Log().All()), nil
	}
	if m.deps.Store == nil {
		return "", debate.Transcript{}, fmt.Errorf("%w: session %s", debate.ErrNotFound, id)
	}
	snap, err := m.deps.Store.LoadSession(ctx, id)
	if err != nil {
		return "", debate.Transcript{}, err
	}
	msgs, err := m.deps.Store.LoadMessages(ctx, id)
	if err != nil {
		return "", debate.Transcript{}, err
	}
	replayed, err := messagelog.Replay(id, msgs)
	if err != nil {
		return "", debate.Transcript{}, err
	}
	return snap.PolicyTitle, debate.NewTranscript(replayed.All()), nil
}

// Remove unregisters a finished session. Running sessions must be ended first.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := (*m.sessions.Load())[id]
	if !ok {
		return fmt.Errorf("%w: session %s", debate.ErrNotFound, id)
	}
	if _, finished := d.FinishedAt(); !finished {
		return fmt.Errorf("%w: session %s is still running", debate.ErrState, id)
	}
	next := m.copySessions()
	delete(next, id)
	m.sessions.Store(&next)
	m.logger.Info("session removed", "session_id", id)
	return nil
}

// Reap removes sessions that finished longer than the retention window ago and
// returns how many were removed.
func (m *Manager) Reap(now time.Time) int {
	var expired []string
	for id, d := range *m.sessions.Load() {
		finished, ok := d.FinishedAt()
		if ok && now.Sub(finished) >= d.cfg.RetentionWindow {
			expired = append(expired, id)
		}
	}
	n := 0
	for _, id := range expired {
		if err := m.Remove(id); err == nil {
			n++
		}
	}
	return n
}

// RunJanitor calls Reap every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(m.deps.Now()); n > 0 {
				m.logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}

// Shutdown stops every session and waits for their drivers to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range *m.sessions.Load() {
		g.Go(func() error {
			select {
			case <-d.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("session %s: %w", d.ID(), ctx.Err())
			}
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// BuildAgents registers profiles as stakeholder agents with unique, stable IDs.
func BuildAgents(profiles []debate.StakeholderProfile) []debate.StakeholderAgent {
	used := map[string]bool{debate.SenderModerator: true, debate.SenderUser: true}
	agents := make([]debate.StakeholderAgent, 0, len(profiles))
	for i, p := range profiles {
		base := slugify(p.Name)
		if base == "" {
			base = "stakeholder-" + strconv.Itoa(i+1)
		}
		id := base
		for n := 2; used[id]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		used[id] = true

		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = id
		}
		agents = append(agents, debate.StakeholderAgent{
			ID:          id,
			DisplayName: name,
			Persona: debate.Persona{
				Stance:          p.Stance,
				SpeechStyleTags: p.Style,
				Concerns:        p.Concerns,
			},
		})
	}
	return agents
}

// BuildTopics orders drafts by descending priority, keeping extraction order for
// ties, and maps stakeholder names to agent IDs. Names that match no profile are
// dropped.
func BuildTopics(drafts []debate.TopicDraft, profiles []debate.StakeholderProfile, agents []debate.StakeholderAgent) []debate.Topic {
	byName := make(map[string]string, len(profiles))
	for i, p := range profiles {
		byName[strings.ToLower(strings.TrimSpace(p.Name))] = agents[i].ID
	}

	sorted := slices.Clone(drafts)
	slices.SortStableFunc(sorted, func(a, b debate.TopicDraft) int {
		return b.Priority - a.Priority
	})

	used := map[string]bool{}
	topics := make([]debate.Topic, 0, len(sorted))
	for i, d := range sorted {
		base := slugify(d.Title)
		if base == "" {
			base = "topic"
		}
		id := base
		for n := 2; used[id]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		used[id] = true

		var involved []string
		for _, name := range d.Stakeholders {
			if aid, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok && !slices.Contains(involved, aid) {
				involved = append(involved, aid)
			}
		}

		title := strings.TrimSpace(d.Title)
		if title == "" {
			title = "Topic " + strconv.Itoa(i+1)
		}
		topics = append(topics, debate.Topic{
			ID:                     id,
			Title:                  title,
			Description:            d.Description,
			Priority:               d.Priority,
			KeyQuestions:           d.KeyQuestions,
			InvolvedStakeholderIDs: involved,
		})
	}
	return topics
}

func slugify(s string) string {
	return strings.Trim(models.Slugify(strings.TrimSpace(s)), "-")
}
