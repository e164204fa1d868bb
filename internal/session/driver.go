package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/messagelog"
	"github.com/raphaelgruber/policy-debate/internal/metrics"
	"github.com/raphaelgruber/policy-debate/internal/scheduler"
)

// ErrNotController is returned when a client that does not control the session
// sends a command under the first_writer policy.
var ErrNotController = fmt.Errorf("%w: not the session controller", debate.ErrState)

// storeTimeout bounds each persistence call made from the driver goroutine.
const storeTimeout = 5 * time.Second

// anonymousSource is used for commands that arrive without a client identity.
const anonymousSource = "api"

// Driver owns one debate session: its message log, its scheduler and the command
// queue feeding it. Exactly one goroutine runs the scheduler; everything else
// talks to it through Submit, Snapshot and the log.
type Driver struct {
	id          string
	policyID    string
	policyTitle string
	createdAt   time.Time

	cfg          debate.SystemConfig
	stakeholders []debate.StakeholderAgent
	topics       []debate.Topic

	log     *messagelog.Log
	sched   *scheduler.Scheduler
	queue   *commandQueue
	store   Store
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	ctrlMu     sync.Mutex
	controller string

	snap       atomic.Pointer[debate.SessionSnapshot]
	finishedAt atomic.Pointer[time.Time]
	savedState debate.State
	nextStepAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type driverParams struct {
	ID           string
	PolicyID     string
	PolicyTitle  string
	Config       debate.SystemConfig
	Stakeholders []debate.StakeholderAgent
	Topics       []debate.Topic
	Generator    debate.Generator
	Store        Store
	Metrics      *metrics.Collector
	Logger       *slog.Logger
	Now          func() time.Time
	BufferSize   int
}

func newDriver(p driverParams) (*Driver, error) {
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	logger := p.Logger.With("session_id", p.ID)

	d := &Driver{
		id:           p.ID,
		policyID:     p.PolicyID,
		policyTitle:  p.PolicyTitle,
		createdAt:    p.Now().UTC(),
		stakeholders: p.Stakeholders,
		topics:       p.Topics,
		log:          messagelog.New(p.ID, messagelog.WithBufferSize(p.BufferSize)),
		queue:        newCommandQueue(),
		store:        p.Store,
		metrics:      p.Metrics,
		logger:       logger,
		now:          p.Now,
		done:         make(chan struct{}),
	}

	sched, err := scheduler.New(scheduler.Options{
		Config:       p.Config,
		PolicyTitle:  p.PolicyTitle,
		Stakeholders: p.Stakeholders,
		Topics:       p.Topics,
		Generator:    p.Generator,
		Emitter:      d,
		Invoker:      d.invoke,
		Now:          p.Now,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	d.sched = sched
	d.cfg = sched.Config()
	d.publishSnapshot()
	return d, nil
}

// start launches the driver goroutine. The session runs until it completes, is
// terminated, or ctx is cancelled.
func (d *Driver) start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.run(ctx)
}

// ID returns the session ID.
func (d *Driver) ID() string {
	return d.id
}

// Log returns the session's message log.
func (d *Driver) Log() *messagelog.Log {
	return d.log
}

// PolicyTitle returns the title of the debated policy.
func (d *Driver) PolicyTitle() string {
	return d.policyTitle
}

// Done is closed when the driver goroutine has exited.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Stop cancels the driver without appending anything.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// FinishedAt returns when the session reached a terminal state.
func (d *Driver) FinishedAt() (time.Time, bool) {
	t := d.finishedAt.Load()
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

// Snapshot returns a read-only copy of the session state.
func (d *Driver) Snapshot() debate.SessionSnapshot {
	snap := *d.snap.Load()
	snap.Controller = d.Controller()
	return snap
}

// Controller returns the client that controls the session, if any.
func (d *Driver) Controller() string {
	d.ctrlMu.Lock()
	defer d.ctrlMu.Unlock()
	return d.controller
}

// Submit enqueues a command. It never blocks on the driver. Commands from a
// client other than the controller are dropped under the first_writer policy and
// answered with a not_controller error addressed to that client. Commands for a
// finished session are accepted and dropped.
func (d *Driver) Submit(cmd debate.ControlCommand) error {
	if !cmd.Type.Valid() {
		return fmt.Errorf("%w: unknown command %q", debate.ErrProtocol, cmd.Type)
	}
	if cmd.Type == debate.CommandUserInput && strings.TrimSpace(cmd.Payload) == "" {
		return fmt.Errorf("%w: user_input requires text", debate.ErrProtocol)
	}
	if cmd.Source == "" {
		cmd.Source = anonymousSource
	}
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = d.now().UTC()
	}
	if _, finished := d.FinishedAt(); finished {
		d.logger.Debug("command ignored", "command", cmd.Type, "client_id", cmd.Source, "reason", "session has ended")
		return nil
	}

	if d.cfg.ControlPolicy == debate.ControlFirstWriter {
		d.ctrlMu.Lock()
		if d.controller == "" {
			d.controller = cmd.Source
			d.logger.Info("session controller assigned", "client_id", cmd.Source)
		}
		owner := d.controller
		d.ctrlMu.Unlock()

		if owner != cmd.Source {
			d.log.Publish(debate.ErrorEvent(debate.CodeNotController,
				fmt.Sprintf("session is controlled by another client, %s ignored", cmd.Type), cmd.Source))
			return ErrNotController
		}
	}

	d.queue.push(cmd)
	d.metrics.Inc(metrics.CounterCommands)
	return nil
}

func (d *Driver) run(ctx context.Context) {
	defer close(d.done)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("session driver panicked", "panic", r)
			d.log.Publish(debate.ErrorEvent(debate.CodeInternal, "session driver failed", ""))
			d.markFinished()
			d.log.Close()
		}
	}()

	d.logger.Info("session started", "policy", d.policyTitle, "stakeholders", len(d.stakeholders), "topics", len(d.topics))

	for {
		if cmd, ok := d.queue.pop(); ok {
			d.apply(cmd)
		}
		if d.sched.State().IsTerminal() {
			d.finish()
			return
		}

		now := d.now()
		ready, wake := d.sched.Ready(now)
		if ready && now.Before(d.nextStepAt) {
			ready, wake = false, d.nextStepAt
		}

		if ready {
			if err := d.sched.Step(ctx); err != nil {
				if ctx.Err() != nil {
					d.stopped()
					return
				}
				d.logger.Error("session step failed", "state", d.sched.State(), "error", err)
				d.log.Publish(debate.ErrorEvent(debate.CodeInternal, err.Error(), ""))
				d.publishSnapshot()
				d.markFinished()
				d.log.Close()
				return
			}
			if d.cfg.TurnDelay > 0 {
				d.nextStepAt = d.now().Add(d.cfg.TurnDelay)
			}
			d.publishSnapshot()
			continue
		}

		d.publishSnapshot()
		if d.queue.len() > 0 {
			continue
		}
		if !d.wait(ctx, now, wake) {
			d.stopped()
			return
		}
	}
}

// wait blocks until a command arrives, wake passes, or ctx is done. It reports
// false when ctx is done.
func (d *Driver) wait(ctx context.Context, now, wake time.Time) bool {
	var timer <-chan time.Time
	if !wake.IsZero() {
		t := time.NewTimer(wake.Sub(now))
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-d.queue.ready():
	case <-timer:
	case <-ctx.Done():
		return false
	}
	return true
}

// invoke runs a generation call while still honoring end_debate: an end command
// that arrives mid-call is applied at once and the call's result, when it comes,
// is appended as post-termination.
func (d *Driver) invoke(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("%w: generator panicked: %v", debate.ErrGeneration, r)}
			}
		}()
		text, err := call(ctx)
		ch <- result{text, err}
	}()

	for {
		select {
		case r := <-ch:
			return r.text, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		case <-d.queue.ready():
			if cmd, ok := d.queue.takeEnd(); ok {
				d.apply(cmd)
			}
		}
	}
}

func (d *Driver) apply(cmd debate.ControlCommand) {
	before := d.sched.State()
	if err := d.sched.Apply(cmd); err != nil {
		if !errors.Is(err, debate.ErrState) {
			d.logger.Error("command failed", "command", cmd.Type, "client_id", cmd.Source, "error", err)
			return
		}
		d.logger.Debug("command ignored", "command", cmd.Type, "client_id", cmd.Source, "state", before, "reason", err)
		return
	}
	d.logger.Info("command applied", "command", cmd.Type, "client_id", cmd.Source, "from", before, "to", d.sched.State())
	d.publishSnapshot()
}

// Emit implements scheduler.Emitter.
func (d *Driver) Emit(draft debate.Message) (debate.Message, error) {
	draft.ID = uuid.NewString()
	draft.SessionID = d.id
	draft.Sequence = d.log.Last() + 1
	draft.Timestamp = d.now().UTC()
	if err := d.log.Append(draft); err != nil {
		return debate.Message{}, err
	}
	if draft.Metadata.Error {
		d.metrics.Inc(metrics.CounterGenerationErrors)
	}
	d.persistMessage(draft)
	return draft, nil
}

// Notify implements scheduler.Emitter.
func (d *Driver) Notify(ev debate.Event) {
	d.log.Publish(ev)
}

func (d *Driver) persistMessage(msg debate.Message) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	start := time.Now()
	err := d.store.SaveMessage(ctx, msg)
	d.metrics.RecordTiming(metrics.OpStoreWrite, time.Since(start))
	if err != nil {
		d.logger.Warn("failed to persist message", "sequence", msg.Sequence, "error", err)
	}
}

func (d *Driver) persistSession(snap debate.SessionSnapshot) {
	if d.store == nil || snap.State == d.savedState {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	start := time.Now()
	err := d.store.SaveSession(ctx, snap)
	d.metrics.RecordTiming(metrics.OpStoreWrite, time.Since(start))
	if err != nil {
		d.logger.Warn("failed to persist session", "state", snap.State, "error", err)
		return
	}
	d.savedState = snap.State
}

// publishSnapshot swaps in a fresh snapshot and persists state changes. Only the
// driver goroutine calls it after start.
func (d *Driver) publishSnapshot() {
	snap := debate.SessionSnapshot{
		ID:                d.id,
		PolicyID:          d.policyID,
		PolicyTitle:       d.policyTitle,
		State:             d.sched.State(),
		ResumeState:       d.sched.ResumeState(),
		Stakeholders:      d.stakeholders,
		Topics:            d.topics,
		CurrentTopicIndex: d.sched.TopicIndex(),
		CurrentRound:      d.sched.Round(),
		SpeakingTime:      d.sched.SpeakingTime(),
		LastSequence:      d.log.Last(),
		Controller:        d.Controller(),
		Config:            d.cfg,
		CreatedAt:         d.createdAt,
		UpdatedAt:         d.now().UTC(),
	}
	d.snap.Store(&snap)
	d.persistSession(snap)
}

func (d *Driver) finish() {
	d.publishSnapshot()
	d.markFinished()
	if d.sched.State() == debate.StateCompleted {
		d.metrics.Inc(metrics.CounterSessionsCompleted)
	}
	d.logger.Info("session finished", "state", d.sched.State(), "messages", d.log.Len())
	d.log.Close()
}

// markFinished records the finish time. Finished sessions ignore commands and
// become eligible for Remove and Reap.
func (d *Driver) markFinished() {
	now := d.now().UTC()
	d.finishedAt.Store(&now)
}

func (d *Driver) stopped() {
	d.publishSnapshot()
	d.logger.Info("session stopped", "state", d.sched.State(), "messages", d.log.Len())
	d.log.Close()
}
