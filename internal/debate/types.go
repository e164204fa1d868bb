// Package debate defines the domain types shared by every part of the debate engine:
// stakeholders, topics, the A2A message envelope, control commands and session state.
package debate

import (
	"time"
)

// State is the turn scheduler state of a session.
type State string

const (
	StateIdle                 State = "idle"
	StateIntroducing          State = "introducing"
	StateRoundInProgress      State = "round_in_progress"
	StateTopicWrapUp          State = "topic_wrap_up"
	StateConcluding           State = "concluding"
	StateCompleted            State = "completed"
	StatePaused               State = "paused"
	StateAwaitingUserResponse State = "awaiting_user_response"
	StateTerminated           State = "terminated"
)

// IsTerminal reports whether no further scheduling can happen from this state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateTerminated
}

// MessageType classifies a DebateMessage.
type MessageType string

const (
	MessageIntro                   MessageType = "intro"
	MessageClaim                   MessageType = "claim"
	MessageRebuttal                MessageType = "rebuttal"
	MessageModeratorTransition     MessageType = "moderator_transition"
	MessageModeratorBalance        MessageType = "moderator_balance"
	MessageUserInterjection        MessageType = "user_interjection"
	MessageModeratorAcknowledgment MessageType = "moderator_acknowledgment"
	MessageWrapUp                  MessageType = "wrap_up"
	MessageConclusion              MessageType = "conclusion"
	MessageStatus                  MessageType = "status"
	MessageError                   MessageType = "error"
)

// CountsAsSpeech reports whether the message type contributes to speaking time.
func (t MessageType) CountsAsSpeech() bool {
	return t == MessageClaim || t == MessageRebuttal
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageIntro, MessageClaim, MessageRebuttal, MessageModeratorTransition,
		MessageModeratorBalance, MessageUserInterjection, MessageModeratorAcknowledgment,
		MessageWrapUp, MessageConclusion, MessageStatus, MessageError:
		return true
	}
	return false
}

// Well-known sender IDs that are not stakeholders.
const (
	SenderModerator = "moderator"
	SenderUser      = "user"
)

// StatusTerminatedEarly is the content of the status message appended by end_debate.
const StatusTerminatedEarly = "terminated_early"

// Persona is the data a generation adapter needs to voice a stakeholder.
type Persona struct {
	Stance          string   `json:"stance" yaml:"stance"`
	SpeechStyleTags []string `json:"speech_style_tags,omitempty" yaml:"style"`
	Concerns        []string `json:"concerns,omitempty" yaml:"concerns"`
}

// StakeholderAgent is a debate participant. Immutable after session creation.
type StakeholderAgent struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Persona     Persona `json:"persona"`
}

// Topic is a prioritized sub-issue of the policy.
type Topic struct {
	ID                     string   `json:"id"`
	Title                  string   `json:"title"`
	Description            string   `json:"description"`
	Priority               int      `json:"priority"`
	KeyQuestions           []string `json:"key_questions,omitempty"`
	InvolvedStakeholderIDs []string `json:"involved_stakeholder_ids,omitempty"`
}

// Involves reports whether the stakeholder takes part in the topic.
// A topic without an explicit participant list involves everyone.
func (t Topic) Involves(stakeholderID string) bool {
	if len(t.InvolvedStakeholderIDs) == 0 {
		return true
	}
	for _, id := range t.InvolvedStakeholderIDs {
		if id == stakeholderID {
			return true
		}
	}
	return false
}

// Metadata carries flags attached to a message by the driver.
type Metadata struct {
	// Error marks a stub produced after a failed or timed out generation call.
	Error        bool   `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// PostTermination marks a result that arrived after end_debate. Consumers must ignore it.
	PostTermination bool `json:"post_termination,omitempty"`
	// BalancedOrder marks the first turn of a round whose order was forced by the balance check.
	BalancedOrder bool `json:"balanced_order,omitempty"`
}

// IsZero reports whether no flag is set.
func (m Metadata) IsZero() bool {
	return m == Metadata{}
}

// Message is the A2A envelope: one entry of a session's message log.
type Message struct {
	ID                  string      `json:"id"`
	SessionID           string      `json:"session_id"`
	Sequence            int64       `json:"sequence"`
	SenderID            string      `json:"sender"`
	SenderName          string      `json:"sender_name,omitempty"`
	Type                MessageType `json:"message_type"`
	Content             string      `json:"content"`
	ReferencedMessageID string      `json:"referenced_message_id,omitempty"`
	TopicID             string      `json:"topic_id,omitempty"`
	Round               int         `json:"round"`
	Metadata            Metadata    `json:"metadata"`
	Timestamp           time.Time   `json:"timestamp"`
}

// CommandType names an inbound control command.
type CommandType string

const (
	CommandPause     CommandType = "pause_debate"
	CommandResume    CommandType = "resume_debate"
	CommandEnd       CommandType = "end_debate"
	CommandUserInput CommandType = "user_input"
)

// Valid reports whether c is a known command type.
func (c CommandType) Valid() bool {
	switch c {
	case CommandPause, CommandResume, CommandEnd, CommandUserInput:
		return true
	}
	return false
}

// ControlCommand is an ephemeral instruction pushed into a session's queue.
type ControlCommand struct {
	Type       CommandType
	Payload    string
	ReceivedAt time.Time
	// Source identifies the issuing client for control-policy checks and targeted errors.
	Source string
}

// SessionSnapshot is a read-only copy of a session's state.
type SessionSnapshot struct {
	ID                string             `json:"id"`
	PolicyID          string             `json:"policy_id"`
	PolicyTitle       string             `json:"policy_title"`
	State             State              `json:"state"`
	ResumeState       State              `json:"resume_state,omitempty"`
	Stakeholders      []StakeholderAgent `json:"stakeholders"`
	Topics            []Topic            `json:"topics"`
	CurrentTopicIndex int                `json:"current_topic_index"`
	CurrentRound      int                `json:"current_round"`
	SpeakingTime      map[string]int     `json:"speaking_time"`
	LastSequence      int64              `json:"last_sequence"`
	Controller        string             `json:"controller,omitempty"`
	Config            SystemConfig       `json:"config"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}
