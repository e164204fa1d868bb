// Package db provides SurrealDB query functions for debate sessions and messages.
package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/models"
)

// SaveSession creates or replaces the stored state of a session.
func (c *Client) SaveSession(ctx context.Context, snap debate.SessionSnapshot) error {
	sql := `
		UPSERT type::record("debate_session", $id) SET
			policy_id = $policy_id,
			policy_title = $policy_title,
			state = $state,
			resume_state = $resume_state,
			stakeholders = $stakeholders,
			topics = $topics,
			current_topic_index = $current_topic_index,
			current_round = $current_round,
			speaking_time = $speaking_time,
			last_sequence = $last_sequence,
			controller = $controller,
			config = $config,
			created_at = $created_at,
			updated_at = $updated_at
	`
	speaking := snap.SpeakingTime
	if speaking == nil {
		speaking = map[string]int{}
	}
	vars := map[string]any{
		"id":                  snap.ID,
		"policy_id":           snap.PolicyID,
		"policy_title":        snap.PolicyTitle,
		"state":               string(snap.State),
		"resume_state":        models.OptionalString(string(snap.ResumeState)),
		"stakeholders":        snap.Stakeholders,
		"topics":              snap.Topics,
		"current_topic_index": snap.CurrentTopicIndex,
		"current_round":       snap.CurrentRound,
		"speaking_time":       speaking,
		"last_sequence":       snap.LastSequence,
		"controller":          models.OptionalString(snap.Controller),
		"config":              snap.Config,
		"created_at":          snap.CreatedAt,
		"updated_at":          snap.UpdatedAt,
	}
	err := retryConflicts(ctx, func() error {
		_, err := surrealdb.Query[any](ctx, c.db, sql, vars)
		return err
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the stored state of a session, or debate.ErrNotFound.
func (c *Client) LoadSession(ctx context.Context, id string) (debate.SessionSnapshot, error) {
	results, err := surrealdb.Query[[]models.DebateSession](ctx, c.db, `
		SELECT * FROM type::record("debate_session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return debate.SessionSnapshot{}, fmt.Errorf("load session: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return debate.SessionSnapshot{}, fmt.Errorf("%w: session %s", debate.ErrNotFound, id)
	}
	return (*results)[0].Result[0].Snapshot()
}

// ListSessions returns stored sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]debate.SessionSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.DebateSession](ctx, c.db, `
		SELECT * FROM debate_session ORDER BY created_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []debate.SessionSnapshot{}, nil
	}

	out := make([]debate.SessionSnapshot, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		snap, err := rec.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// SaveMessage stores one message log entry. A second entry with the same
// session and sequence fails with ErrAlreadyExists.
func (c *Client) SaveMessage(ctx context.Context, msg debate.Message) error {
	sql := `
		CREATE type::record("debate_message", $id) SET
			session_id = $session_id,
			sequence = $sequence,
			sender = $sender,
			sender_name = $sender_name,
			message_type = $message_type,
			content = $content,
			referenced_message_id = $referenced_message_id,
			topic_id = $topic_id,
			round = $round,
			metadata = $metadata,
			timestamp = $timestamp
	`
	vars := map[string]any{
		"id":                    msg.ID,
		"session_id":            msg.SessionID,
		"sequence":              msg.Sequence,
		"sender":                msg.SenderID,
		"sender_name":           msg.SenderName,
		"message_type":          string(msg.Type),
		"content":               msg.Content,
		"referenced_message_id": models.OptionalString(msg.ReferencedMessageID),
		"topic_id":              models.OptionalString(msg.TopicID),
		"round":                 msg.Round,
		"metadata":              msg.Metadata,
		"timestamp":             msg.Timestamp,
	}
	err := retryConflicts(ctx, func() error {
		_, err := surrealdb.Query[any](ctx, c.db, sql, vars)
		return err
	})
	if err != nil {
		return fmt.Errorf("save message %d: %w", msg.Sequence, err)
	}
	return nil
}

// LoadMessages returns a session's messages in sequence order.
func (c *Client) LoadMessages(ctx context.Context, sessionID string) ([]debate.Message, error) {
	results, err := surrealdb.Query[[]models.DebateMessage](ctx, c.db, `
		SELECT * FROM debate_message WHERE session_id = $session_id ORDER BY sequence ASC
	`, map[string]any{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []debate.Message{}, nil
	}

	out := make([]debate.Message, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		msg, err := rec.Message()
		if err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE debate_message WHERE session_id = $id;
		DELETE type::record("debate_session", $id);
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
