package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// DebateMessage is one persisted message log entry. The record key is the message ID.
type DebateMessage struct {
	ID                  surrealmodels.RecordID `json:"id"`
	SessionID           string                 `json:"session_id"`
	Sequence            int64                  `json:"sequence"`
	Sender              string                 `json:"sender"`
	SenderName          string                 `json:"sender_name"`
	MessageType         string                 `json:"message_type"`
	Content             string                 `json:"content"`
	ReferencedMessageID *string                `json:"referenced_message_id,omitempty"`
	TopicID             *string                `json:"topic_id,omitempty"`
	Round               int                    `json:"round"`
	Metadata            debate.Metadata        `json:"metadata"`
	Timestamp           time.Time              `json:"timestamp"`
}

// Message converts the record back into the envelope.
func (m DebateMessage) Message() (debate.Message, error) {
	id, err := RecordIDString(m.ID)
	if err != nil {
		return debate.Message{}, err
	}
	msg := debate.Message{
		ID:         id,
		SessionID:  m.SessionID,
		Sequence:   m.Sequence,
		SenderID:   m.Sender,
		SenderName: m.SenderName,
		Type:       debate.MessageType(m.MessageType),
		Content:    m.Content,
		Round:      m.Round,
		Metadata:   m.Metadata,
		Timestamp:  m.Timestamp,
	}
	if m.ReferencedMessageID != nil {
		msg.ReferencedMessageID = *m.ReferencedMessageID
	}
	if m.TopicID != nil {
		msg.TopicID = *m.TopicID
	}
	return msg, nil
}

// OptionalString maps "" to nil for option<string> fields.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
