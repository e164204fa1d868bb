// Package messagelog provides the append-only, strictly ordered store of debate
// messages for one session, with backfill and live subscriptions for viewers.
package messagelog

import (
	"fmt"
	"sync"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 256

// Subscription close reasons.
const (
	ReasonUnsubscribed = "unsubscribed"
	ReasonSlowConsumer = debate.CodeSlowConsumer
	ReasonClosed       = "log_closed"
)

// Log is the message log of one session. The session driver is its only writer;
// any number of readers may call Since or Subscribe concurrently.
type Log struct {
	sessionID  string
	bufferSize int

	mu       sync.RWMutex
	messages []debate.Message
	index    map[string]int64 // message ID -> sequence
	subs     map[*Subscription]struct{}
	closed   bool
}

// Option configures a Log.
type Option func(*Log)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.bufferSize = n
		}
	}
}

// New creates an empty log for sessionID.
func New(sessionID string, opts ...Option) *Log {
	l := &Log{
		sessionID:  sessionID,
		bufferSize: DefaultBufferSize,
		index:      make(map[string]int64),
		subs:       make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SessionID returns the session this log belongs to.
func (l *Log) SessionID() string {
	return l.sessionID
}

// Append adds msg at the end of the log and fans it out to subscribers.
// The sequence must be exactly one more than the last one, and any reference
// must point at a message already in the log.
func (l *Log) Append(msg debate.Message) error {
	if err := debate.ValidateEnvelope(msg); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("%w: log for session %s is closed", debate.ErrState, l.sessionID)
	}
	if msg.SessionID != l.sessionID {
		return fmt.Errorf("%w: message for session %s appended to %s", debate.ErrState, msg.SessionID, l.sessionID)
	}
	if want := int64(len(l.messages)) + 1; msg.Sequence != want {
		return fmt.Errorf("%w: sequence %d out of order, want %d", debate.ErrState, msg.Sequence, want)
	}
	if msg.ID == "" {
		return fmt.Errorf("%w: message %d has no id", debate.ErrState, msg.Sequence)
	}
	if _, dup := l.index[msg.ID]; dup {
		return fmt.Errorf("%w: duplicate message id %s", debate.ErrState, msg.ID)
	}
	if msg.ReferencedMessageID != "" {
		refSeq, ok := l.index[msg.ReferencedMessageID]
		if !ok || refSeq >= msg.Sequence {
			return fmt.Errorf("%w: message %d references unknown message %s", debate.ErrState, msg.Sequence, msg.ReferencedMessageID)
		}
	}

	l.messages = append(l.messages, msg)
	l.index[msg.ID] = msg.Sequence
	l.broadcastLocked(debate.MessageEvent(msg))
	return nil
}

// Publish fans out a transient event. It is stamped with the current last sequence.
func (l *Log) Publish(ev debate.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	ev.Sequence = int64(len(l.messages))
	l.broadcastLocked(ev)
}

// broadcastLocked delivers ev without blocking; subscribers that are full are dropped.
// Caller must hold the write lock.
func (l *Log) broadcastLocked(ev debate.Event) {
	for sub := range l.subs {
		select {
		case sub.ch <- ev:
		default:
			l.dropLocked(sub, ReasonSlowConsumer)
		}
	}
}

// Last returns the last assigned sequence, 0 for an empty log.
func (l *Log) Last() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.messages))
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Since returns a copy of all messages with sequence greater than seq.
func (l *Log) Since(seq int64) []debate.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sinceLocked(seq)
}

func (l *Log) sinceLocked(seq int64) []debate.Message {
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(l.messages)) {
		return []debate.Message{}
	}
	out := make([]debate.Message, len(l.messages)-int(seq))
	copy(out, l.messages[seq:])
	return out
}

// All returns a copy of every message.
func (l *Log) All() []debate.Message {
	return l.Since(0)
}

// Get looks up a message by ID.
func (l *Log) Get(id string) (debate.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seq, ok := l.index[id]
	if !ok {
		return debate.Message{}, false
	}
	return l.messages[seq-1], true
}

// Subscribe returns the messages after afterSeq and a subscription that receives
// everything appended or published from then on. Both are taken under one lock,
// so nothing can fall between the backfill and the live stream.
func (l *Log) Subscribe(afterSeq int64) ([]debate.Message, *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	backfill := l.sinceLocked(afterSeq)
	sub := &Subscription{log: l, ch: make(chan debate.Event, l.bufferSize)}
	if l.closed {
		sub.reason = ReasonClosed
		sub.done = true
		close(sub.ch)
		return backfill, sub
	}
	l.subs[sub] = struct{}{}
	return backfill, sub
}

// Subscribers returns the number of live subscriptions.
func (l *Log) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Close ends every subscription. Messages stay readable.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for sub := range l.subs {
		l.dropLocked(sub, ReasonClosed)
	}
}

// dropLocked removes and closes sub. Caller must hold the write lock.
func (l *Log) dropLocked(sub *Subscription, reason string) {
	if sub.done {
		return
	}
	sub.done = true
	sub.reason = reason
	delete(l.subs, sub)
	close(sub.ch)
}

// Subscription is a live view of a log. C is closed when the subscription ends;
// Reason then tells why.
type Subscription struct {
	log    *Log
	ch     chan debate.Event
	done   bool   // guarded by log.mu
	reason string // guarded by log.mu
}

// C returns the event channel.
func (s *Subscription) C() <-chan debate.Event {
	return s.ch
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	s.log.dropLocked(s, ReasonUnsubscribed)
}

// Reason reports why the subscription ended, empty while it is live.
func (s *Subscription) Reason() string {
	s.log.mu.RLock()
	defer s.log.mu.RUnlock()
	return s.reason
}

// Replay rebuilds a read-only log from messages in sequence order, re-checking
// every invariant on the way.
func Replay(sessionID string, messages []debate.Message) (*Log, error) {
	l := New(sessionID)
	for _, m := range messages {
		if err := l.Append(m); err != nil {
			return nil, fmt.Errorf("replay message %d: %w", m.Sequence, err)
		}
	}
	l.Close()
	return l, nil
}
