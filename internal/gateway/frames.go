package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// Frame is an outbound frame. Fields not used by a frame type are omitted.
type Frame struct {
	Type     string `json:"type"`
	Sequence int64  `json:"sequence"`

	// debate_message
	ID                  string             `json:"id,omitempty"`
	Sender              string             `json:"sender,omitempty"`
	SenderName          string             `json:"sender_name,omitempty"`
	Content             string             `json:"content,omitempty"`
	Round               *int               `json:"round,omitempty"`
	TopicID             string             `json:"topic_id,omitempty"`
	MessageType         debate.MessageType `json:"message_type,omitempty"`
	ReferencedMessageID string             `json:"referenced_message_id,omitempty"`
	Metadata            *debate.Metadata   `json:"metadata,omitempty"`
	Timestamp           *time.Time         `json:"timestamp,omitempty"`

	// status and error
	Message string       `json:"message,omitempty"`
	State   debate.State `json:"state,omitempty"`
	Code    string       `json:"code,omitempty"`
}

// MessageFrame encodes a logged message.
func MessageFrame(m debate.Message) Frame {
	round := m.Round
	meta := m.Metadata
	ts := m.Timestamp
	return Frame{
		Type:                string(debate.EventMessage),
		Sequence:            m.Sequence,
		ID:                  m.ID,
		Sender:              m.SenderID,
		SenderName:          m.SenderName,
		Content:             m.Content,
		Round:               &round,
		TopicID:             m.TopicID,
		MessageType:         m.Type,
		ReferencedMessageID: m.ReferencedMessageID,
		Metadata:            &meta,
		Timestamp:           &ts,
	}
}

// EventFrame encodes any event of a session stream.
func EventFrame(ev debate.Event) Frame {
	switch ev.Kind {
	case debate.EventMessage:
		return MessageFrame(*ev.Message)
	case debate.EventStatus:
		return Frame{Type: string(debate.EventStatus), Sequence: ev.Sequence, Message: ev.Status, State: ev.State}
	default:
		return ErrorFrame(ev.Sequence, ev.Code, ev.Text)
	}
}

// ErrorFrame encodes an error notice.
func ErrorFrame(seq int64, code, text string) Frame {
	return Frame{Type: string(debate.EventError), Sequence: seq, Code: code, Message: text}
}

// DebateMessage converts a debate_message frame back into a message.
func (f Frame) DebateMessage(sessionID string) debate.Message {
	m := debate.Message{
		ID:                  f.ID,
		SessionID:           sessionID,
		Sequence:            f.Sequence,
		SenderID:            f.Sender,
		SenderName:          f.SenderName,
		Type:                f.MessageType,
		Content:             f.Content,
		ReferencedMessageID: f.ReferencedMessageID,
		TopicID:             f.TopicID,
	}
	if f.Round != nil {
		m.Round = *f.Round
	}
	if f.Metadata != nil {
		m.Metadata = *f.Metadata
	}
	if f.Timestamp != nil {
		m.Timestamp = *f.Timestamp
	}
	return m
}

// CommandFrame is an inbound control frame.
type CommandFrame struct {
	Type    debate.CommandType `json:"type"`
	Message string             `json:"message,omitempty"`
}

var commandSchema = jsonschema.MustCompileString("command.json", `{
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"enum": ["user_input", "end_debate", "pause_debate", "resume_debate"]},
		"message": {"type": "string", "maxLength": 2000}
	},
	"if": {"properties": {"type": {"const": "user_input"}}},
	"then": {"required": ["message"], "properties": {"message": {"minLength": 1}}}
}`)

// ParseCommand validates an inbound frame and maps it to a control command.
// Every failure is a debate.ErrProtocol.
func ParseCommand(data []byte, source string, now time.Time) (debate.ControlCommand, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return debate.ControlCommand{}, fmt.Errorf("%w: invalid JSON: %v", debate.ErrProtocol, err)
	}
	if err := commandSchema.Validate(payload); err != nil {
		return debate.ControlCommand{}, fmt.Errorf("%w: %v", debate.ErrProtocol, err)
	}

	var f CommandFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return debate.ControlCommand{}, fmt.Errorf("%w: %v", debate.ErrProtocol, err)
	}
	if f.Type == debate.CommandUserInput && strings.TrimSpace(f.Message) == "" {
		return debate.ControlCommand{}, fmt.Errorf("%w: user_input needs a message", debate.ErrProtocol)
	}

	return debate.ControlCommand{
		Type:       f.Type,
		Payload:    strings.TrimSpace(f.Message),
		ReceivedAt: now,
		Source:     source,
	}, nil
}
