// Package scheduler implements the turn scheduler: the state machine that decides
// whose turn it is, advances topics and rounds, and keeps participation balanced.
//
// A Scheduler is owned by exactly one session driver and is not safe for
// concurrent use. Every method runs on the driver's goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// Emitter receives everything the scheduler produces.
type Emitter interface {
	// Emit assigns ID, session, sequence and timestamp to draft, appends it to the
	// message log and returns the stored message.
	Emit(draft debate.Message) (debate.Message, error)
	// Notify publishes a transient event.
	Notify(ev debate.Event)
}

// Invoker runs one blocking generation call and returns when it completes or ctx
// is done. The session driver supplies one that keeps applying end_debate while
// the call is in flight.
type Invoker func(ctx context.Context, call func(context.Context) (string, error)) (string, error)

// Options configures a Scheduler.
type Options struct {
	Config       debate.SystemConfig
	PolicyTitle  string
	Stakeholders []debate.StakeholderAgent
	Topics       []debate.Topic
	Generator    debate.Generator
	Emitter      Emitter
	Invoker      Invoker          // defaults to DirectInvoker
	Now          func() time.Time // defaults to time.Now
	Logger       *slog.Logger
}

// Scheduler is the per-session turn state machine.
type Scheduler struct {
	cfg          debate.SystemConfig
	policyTitle  string
	stakeholders []debate.StakeholderAgent
	byID         map[string]debate.StakeholderAgent
	topics       []debate.Topic
	gen          debate.Generator
	out          Emitter
	invoke       Invoker
	now          func() time.Time
	logger       *slog.Logger

	state      debate.State
	pausedFrom debate.State
	// interjectionReturn is the running state an interjection hands back to,
	// never paused or awaiting_user_response. repause restores a pause that
	// the interjection interrupted.
	interjectionReturn debate.State
	repause            bool

	topicIndex int
	round      int
	order      []string
	turn       int

	speakingTime map[string]int
	lastSpoke    map[string]int64

	forceBalanced bool
	orderBalanced bool

	responders   []string
	ack          *debate.Message
	interjection string
	holdUntil    time.Time

	history []debate.Message
}

// New validates the inputs and returns a scheduler in StateIdle. Config must be
// complete; fill it with SystemConfig.WithDefaults first when building it by hand.
func New(opts Options) (*Scheduler, error) {
	if len(opts.Stakeholders) == 0 {
		return nil, fmt.Errorf("%w: no stakeholders", debate.ErrConfiguration)
	}
	if len(opts.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", debate.ErrConfiguration)
	}
	if opts.Generator == nil || opts.Emitter == nil {
		return nil, fmt.Errorf("%w: generator and emitter are required", debate.ErrConfiguration)
	}

	byID := make(map[string]debate.StakeholderAgent, len(opts.Stakeholders))
	for _, a := range opts.Stakeholders {
		if a.ID == "" || a.ID == debate.SenderModerator || a.ID == debate.SenderUser {
			return nil, fmt.Errorf("%w: invalid stakeholder id %q", debate.ErrConfiguration, a.ID)
		}
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate stakeholder id %q", debate.ErrConfiguration, a.ID)
		}
		byID[a.ID] = a
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:          cfg,
		policyTitle:  opts.PolicyTitle,
		stakeholders: opts.Stakeholders,
		byID:         byID,
		topics:       opts.Topics,
		gen:          opts.Generator,
		out:          opts.Emitter,
		invoke:       opts.Invoker,
		now:          opts.Now,
		logger:       opts.Logger,
		state:        debate.StateIdle,
		speakingTime: make(map[string]int, len(opts.Stakeholders)),
		lastSpoke:    make(map[string]int64, len(opts.Stakeholders)),
	}
	if s.invoke == nil {
		s.invoke = DirectInvoker
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, a := range opts.Stakeholders {
		s.speakingTime[a.ID] = 0
	}
	return s, nil
}

// DirectInvoker runs call on its own goroutine and gives up when ctx is done,
// so a generator that ignores its context cannot stall the session.
func DirectInvoker(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := call(ctx)
		ch <- result{text, err}
	}()
	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// State returns the current state.
func (s *Scheduler) State() debate.State {
	return s.state
}

// ResumeState returns the state a paused session resumes into.
func (s *Scheduler) ResumeState() debate.State {
	return s.pausedFrom
}

// TopicIndex returns the index of the current topic.
func (s *Scheduler) TopicIndex() int {
	return s.topicIndex
}

// Round returns the round within the current topic, starting at 0.
func (s *Scheduler) Round() int {
	return s.round
}

// SpeakingTime returns a copy of the per-stakeholder claim and rebuttal counts.
func (s *Scheduler) SpeakingTime() map[string]int {
	out := make(map[string]int, len(s.speakingTime))
	for k, v := range s.speakingTime {
		out[k] = v
	}
	return out
}

// Config returns the effective configuration.
func (s *Scheduler) Config() debate.SystemConfig {
	return s.cfg
}

// Ready reports whether Step should run now. When it should not, wake is the time
// at which it will become ready on its own, or zero if only a command can wake it.
func (s *Scheduler) Ready(now time.Time) (ready bool, wake time.Time) {
	switch {
	case s.state.IsTerminal(), s.state == debate.StatePaused:
		return false, time.Time{}
	case s.state == debate.StateAwaitingUserResponse && len(s.responders) == 0 && now.Before(s.holdUntil):
		return false, s.holdUntil
	}
	return true, time.Time{}
}

// Step executes one scheduling step. Generation failures are absorbed into stub
// messages; the returned error is either ctx's error or an emitter failure.
func (s *Scheduler) Step(ctx context.Context) error {
	switch s.state {
	case debate.StateIdle:
		if _, err := s.emitModerator(debate.MessageIntro, introText(s.policyTitle, s.stakeholders, s.topics, s.cfg.MaxRoundsPerTopic), ""); err != nil {
			return err
		}
		s.state = debate.StateIntroducing
		return nil

	case debate.StateIntroducing:
		s.topicIndex, s.round = 0, 0
		s.state = debate.StateRoundInProgress
		s.out.Notify(debate.StatusEvent(debate.StatusTopicStart, s.state))
		s.beginRound()
		return nil

	case debate.StateRoundInProgress:
		return s.stepRound(ctx)

	case debate.StateTopicWrapUp:
		return s.stepWrapUp()

	case debate.StateConcluding:
		return s.stepConclude(ctx)

	case debate.StateAwaitingUserResponse:
		return s.stepInterjection(ctx)
	}
	return fmt.Errorf("%w: no step for state %q", debate.ErrState, s.state)
}

func (s *Scheduler) stepRound(ctx context.Context) error {
	if s.turn >= len(s.order) {
		s.beginRound()
	}
	speaker := s.byID[s.order[s.turn]]

	typ := debate.MessageClaim
	var replyTo *debate.Message
	if s.turn > 0 {
		if last := s.lastMessage(); last != nil {
			typ = debate.MessageRebuttal
			replyTo = last
		}
	}
	meta := debate.Metadata{BalancedOrder: s.turn == 0 && s.orderBalanced}

	if _, err := s.speak(ctx, speaker, typ, replyTo, "", meta); err != nil {
		return err
	}
	if s.state.IsTerminal() {
		return nil
	}

	s.turn++
	if s.turn < len(s.order) {
		return nil
	}
	s.out.Notify(debate.StatusEvent(debate.StatusRoundComplete, s.state))
	s.round++
	if s.round >= s.cfg.MaxRoundsPerTopic {
		s.state = debate.StateTopicWrapUp
		return nil
	}
	s.beginRound()
	return nil
}

func (s *Scheduler) stepWrapUp() error {
	topic := s.currentTopic()
	if _, err := s.emitModerator(debate.MessageWrapUp, wrapUpText(topic, s.round, s.stakeholders, s.speakingTime), ""); err != nil {
		return err
	}

	if minIDs, gap := s.imbalance(); gap > s.cfg.BalanceThreshold {
		if _, err := s.emitModerator(debate.MessageModeratorBalance, balanceText(s.stakeholders, s.speakingTime, minIDs, s.byID), ""); err != nil {
			return err
		}
		s.forceBalanced = true
	}

	if s.topicIndex+1 >= len(s.topics) {
		s.state = debate.StateConcluding
		return nil
	}

	s.topicIndex++
	s.round = 0
	next := s.currentTopic()
	if _, err := s.emitModerator(debate.MessageModeratorTransition, transitionText(next, s.topicIndex, len(s.topics)), ""); err != nil {
		return err
	}
	s.state = debate.StateRoundInProgress
	s.out.Notify(debate.StatusEvent(debate.StatusTopicStart, s.state))
	s.beginRound()
	return nil
}

func (s *Scheduler) stepConclude(ctx context.Context) error {
	req := debate.ConclusionRequest{
		PolicyTitle:  s.policyTitle,
		Participants: s.stakeholders,
		Topics:       s.topics,
		Messages:     s.visibleHistory(),
	}
	start := s.now()
	text, err := s.generate(ctx, func(c context.Context) (string, error) {
		return s.gen.GenerateConclusion(c, req)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	var meta debate.Metadata
	if err != nil {
		meta = s.generationFailed(err, debate.SenderModerator, debate.MessageConclusion, start)
		text = conclusionStub(s.policyTitle, len(s.history), len(s.topics))
	}
	if s.state.IsTerminal() {
		meta.PostTermination = true
	}

	msg := debate.Message{
		SenderID:   debate.SenderModerator,
		SenderName: moderatorName,
		Type:       debate.MessageConclusion,
		Content:    text,
		TopicID:    s.currentTopic().ID,
		Round:      s.round,
		Metadata:   meta,
	}
	if _, err := s.emit(msg); err != nil {
		return err
	}
	if s.state.IsTerminal() {
		return nil
	}
	s.state = debate.StateCompleted
	s.out.Notify(debate.StatusEvent(debate.StatusDebateComplete, s.state))
	return nil
}

func (s *Scheduler) stepInterjection(ctx context.Context) error {
	if len(s.responders) == 0 {
		s.finishInterjection()
		return nil
	}

	id := s.responders[0]
	s.responders = s.responders[1:]
	if _, err := s.speak(ctx, s.byID[id], debate.MessageRebuttal, s.ack, s.interjection, debate.Metadata{}); err != nil {
		return err
	}
	if s.state.IsTerminal() || s.state != debate.StateAwaitingUserResponse {
		return nil
	}
	if len(s.responders) == 0 {
		if s.cfg.InterjectionHold > 0 {
			s.holdUntil = s.now().Add(s.cfg.InterjectionHold)
			return nil
		}
		s.finishInterjection()
	}
	return nil
}

func (s *Scheduler) finishInterjection() {
	next := s.interjectionReturn
	if !resumable(next) {
		s.logger.Warn("interjection has no state to return to", "return_state", next)
		next = debate.StateRoundInProgress
	}
	s.state = next
	if s.repause {
		s.pausedFrom = next
		s.state = debate.StatePaused
	}
	s.interjectionReturn = ""
	s.repause = false
	s.ack = nil
	s.interjection = ""
	s.holdUntil = time.Time{}
	s.out.Notify(debate.StatusEvent(debate.StatusResumed, s.state))
}

// Apply applies a control command. Commands that make no sense in the current
// state return an ErrState error and change nothing.
func (s *Scheduler) Apply(cmd debate.ControlCommand) error {
	if s.state.IsTerminal() {
		return fmt.Errorf("%w: session is %s", debate.ErrState, s.state)
	}

	switch cmd.Type {
	case debate.CommandPause:
		if s.state == debate.StatePaused {
			return fmt.Errorf("%w: already paused", debate.ErrState)
		}
		s.pausedFrom = s.state
		s.state = debate.StatePaused
		s.out.Notify(debate.StatusEvent(debate.StatusPaused, s.state))
		return nil

	case debate.CommandResume:
		if s.state != debate.StatePaused {
			return fmt.Errorf("%w: resume while %s", debate.ErrState, s.state)
		}
		if s.pausedFrom == "" || s.pausedFrom == debate.StatePaused {
			s.pausedFrom = debate.StateRoundInProgress
		}
		s.state = s.pausedFrom
		s.pausedFrom = ""
		s.repause = false
		s.out.Notify(debate.StatusEvent(debate.StatusResumed, s.state))
		return nil

	case debate.CommandEnd:
		s.state = debate.StateTerminated
		s.pausedFrom = ""
		s.interjectionReturn = ""
		s.repause = false
		s.responders = nil
		if _, err := s.emitModerator(debate.MessageStatus, debate.StatusTerminatedEarly, ""); err != nil {
			return err
		}
		s.out.Notify(debate.StatusEvent(debate.StatusTerminated, s.state))
		return nil

	case debate.CommandUserInput:
		return s.applyUserInput(cmd)
	}
	return fmt.Errorf("%w: unknown command %q", debate.ErrState, cmd.Type)
}

func (s *Scheduler) applyUserInput(cmd debate.ControlCommand) error {
	text := strings.TrimSpace(cmd.Payload)
	if text == "" {
		return fmt.Errorf("%w: empty user input", debate.ErrState)
	}

	topic := s.currentTopic()
	user, err := s.emit(debate.Message{
		SenderID:   debate.SenderUser,
		SenderName: "User",
		Type:       debate.MessageUserInterjection,
		Content:    text,
		TopicID:    topic.ID,
		Round:      s.round,
	})
	if err != nil {
		return err
	}

	switch s.state {
	case debate.StateAwaitingUserResponse:
		// A newer interjection replaces the pending one and keeps its return state.
	case debate.StatePaused:
		if s.pausedFrom != debate.StateAwaitingUserResponse {
			s.interjectionReturn = s.pausedFrom
		}
		s.pausedFrom = ""
		s.repause = true
	default:
		s.interjectionReturn = s.state
	}
	s.responders = s.pickResponders()
	s.holdUntil = time.Time{}

	names := make([]string, 0, len(s.responders))
	for _, id := range s.responders {
		names = append(names, s.byID[id].DisplayName)
	}
	ack, err := s.emitModerator(debate.MessageModeratorAcknowledgment, acknowledgmentText(text, names), user.ID)
	if err != nil {
		return err
	}
	s.ack = &ack
	s.interjection = text
	s.state = debate.StateAwaitingUserResponse
	s.out.Notify(debate.StatusEvent(debate.StatusAwaitingUser, s.state))
	return nil
}

// resumable reports whether st is a state Step can advance from after an
// interjection.
func resumable(st debate.State) bool {
	switch st {
	case debate.StateIdle, debate.StateIntroducing, debate.StateRoundInProgress,
		debate.StateTopicWrapUp, debate.StateConcluding:
		return true
	}
	return false
}

// pickResponders returns up to InterjectionResponders stakeholders, least recently
// spoken first, ties in registration order.
func (s *Scheduler) pickResponders() []string {
	ids := make([]string, 0, len(s.stakeholders))
	for _, a := range s.stakeholders {
		ids = append(ids, a.ID)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return s.lastSpoke[ids[i]] < s.lastSpoke[ids[j]]
	})
	if n := s.cfg.InterjectionResponders; len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// beginRound fixes the speaker order for the round about to start.
func (s *Scheduler) beginRound() {
	s.orderBalanced = s.forceBalanced
	s.order = s.speakingOrder(s.currentTopic(), s.forceBalanced)
	s.forceBalanced = false
	s.turn = 0
	s.out.Notify(debate.StatusEvent(debate.StatusRoundStart, s.state))
}

// speakingOrder sorts the eligible stakeholders by ascending speaking time, ties
// in registration order. With everyone set, topic participation is ignored.
func (s *Scheduler) speakingOrder(topic debate.Topic, everyone bool) []string {
	ids := make([]string, 0, len(s.stakeholders))
	for _, a := range s.stakeholders {
		if everyone || topic.Involves(a.ID) {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		for _, a := range s.stakeholders {
			ids = append(ids, a.ID)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return s.speakingTime[ids[i]] < s.speakingTime[ids[j]]
	})
	return ids
}

// imbalance returns the least-spoken stakeholders and the max-min spread.
func (s *Scheduler) imbalance() ([]string, int) {
	minCount, maxCount := -1, 0
	for _, a := range s.stakeholders {
		n := s.speakingTime[a.ID]
		if minCount < 0 || n < minCount {
			minCount = n
		}
		if n > maxCount {
			maxCount = n
		}
	}
	var least []string
	for _, a := range s.stakeholders {
		if s.speakingTime[a.ID] == minCount {
			least = append(least, a.ID)
		}
	}
	return least, maxCount - minCount
}

// speak runs one stakeholder turn and emits the result or a stub.
func (s *Scheduler) speak(ctx context.Context, speaker debate.StakeholderAgent, typ debate.MessageType, replyTo *debate.Message, interjection string, meta debate.Metadata) (debate.Message, error) {
	topic := s.currentTopic()
	req := debate.ArgumentRequest{
		PolicyTitle:  s.policyTitle,
		Speaker:      speaker,
		Participants: s.stakeholders,
		Topic:        topic,
		Type:         typ,
		Context:      s.recentContext(),
		ReplyTo:      replyTo,
		Interjection: interjection,
	}
	ref := ""
	if replyTo != nil {
		ref = replyTo.ID
	}
	round := s.round

	start := s.now()
	text, err := s.generate(ctx, func(c context.Context) (string, error) {
		return s.gen.GenerateArgument(c, req)
	})
	if err != nil && ctx.Err() != nil {
		return debate.Message{}, ctx.Err()
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("%w: empty argument", debate.ErrGeneration)
	}
	if err != nil {
		failed := s.generationFailed(err, speaker.ID, typ, start)
		failed.BalancedOrder = meta.BalancedOrder
		meta = failed
		text = argumentStub(speaker, typ)
	}
	if s.state.IsTerminal() {
		meta.PostTermination = true
	}

	return s.emit(debate.Message{
		SenderID:            speaker.ID,
		SenderName:          speaker.DisplayName,
		Type:                typ,
		Content:             strings.TrimSpace(text),
		ReferencedMessageID: ref,
		TopicID:             topic.ID,
		Round:               round,
		Metadata:            meta,
	})
}

// generate bounds call with the configured timeout.
func (s *Scheduler) generate(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()
	return s.invoke(callCtx, call)
}

// generationFailed logs and reports a failed call and returns the stub metadata.
func (s *Scheduler) generationFailed(err error, sender string, typ debate.MessageType, start time.Time) debate.Metadata {
	if !errors.Is(err, debate.ErrGeneration) {
		err = fmt.Errorf("%w: %v", debate.ErrGeneration, err)
	}
	s.logger.Warn("generation failed, emitting stub",
		"sender", sender,
		"message_type", typ,
		"duration_ms", s.now().Sub(start).Milliseconds(),
		"error", err)
	s.out.Notify(debate.ErrorEvent(debate.CodeGenerationFailed, fmt.Sprintf("%s %s: %v", sender, typ, err), ""))
	return debate.Metadata{Error: true, ErrorMessage: err.Error()}
}

func (s *Scheduler) emitModerator(typ debate.MessageType, content, ref string) (debate.Message, error) {
	topicID := ""
	if typ != debate.MessageIntro {
		topicID = s.currentTopic().ID
	}
	return s.emit(debate.Message{
		SenderID:            debate.SenderModerator,
		SenderName:          moderatorName,
		Type:                typ,
		Content:             content,
		ReferencedMessageID: ref,
		TopicID:             topicID,
		Round:               s.round,
	})
}

// emit hands draft to the emitter and books speaking time for the stored message.
func (s *Scheduler) emit(draft debate.Message) (debate.Message, error) {
	msg, err := s.out.Emit(draft)
	if err != nil {
		return debate.Message{}, fmt.Errorf("emit %s: %w", draft.Type, err)
	}
	s.history = append(s.history, msg)
	if msg.Type.CountsAsSpeech() {
		s.speakingTime[msg.SenderID]++
		s.lastSpoke[msg.SenderID] = msg.Sequence
	}
	return msg, nil
}

func (s *Scheduler) currentTopic() debate.Topic {
	if s.topicIndex < len(s.topics) {
		return s.topics[s.topicIndex]
	}
	return s.topics[len(s.topics)-1]
}

func (s *Scheduler) lastMessage() *debate.Message {
	if len(s.history) == 0 {
		return nil
	}
	m := s.history[len(s.history)-1]
	return &m
}

// visibleHistory drops results that consumers must ignore.
func (s *Scheduler) visibleHistory() []debate.Message {
	out := make([]debate.Message, 0, len(s.history))
	for _, m := range s.history {
		if !m.Metadata.PostTermination {
			out = append(out, m)
		}
	}
	return out
}

func (s *Scheduler) recentContext() []debate.Message {
	visible := s.visibleHistory()
	if n := s.cfg.ContextWindow; len(visible) > n {
		visible = visible[len(visible)-n:]
	}
	return visible
}
