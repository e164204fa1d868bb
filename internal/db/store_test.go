//go:build integration

package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/messagelog"
)

func testMessages(sessionID string) []debate.Message {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	claimID := uuid.NewString()
	return []debate.Message{
		{ID: uuid.NewString(), SessionID: sessionID, Sequence: 1, SenderID: debate.SenderModerator, SenderName: "Moderator", Type: debate.MessageIntro, Content: "Welcome", Timestamp: ts},
		{ID: claimID, SessionID: sessionID, Sequence: 2, SenderID: "farmers", SenderName: "Farmers", Type: debate.MessageClaim, Content: "We need water", TopicID: "allocation", Timestamp: ts.Add(time.Second)},
		{ID: uuid.NewString(), SessionID: sessionID, Sequence: 3, SenderID: "city", SenderName: "City", Type: debate.MessageRebuttal, Content: "So do we", TopicID: "allocation", ReferencedMessageID: claimID, Metadata: debate.Metadata{Error: true, ErrorMessage: "timeout"}, Timestamp: ts.Add(2 * time.Second)},
	}
}

func TestMessagesRoundTripInSequenceOrder(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.NewString()
	msgs := testMessages(sessionID)
	t.Cleanup(func() { _ = testDB.DeleteSession(ctx, sessionID) })

	// insert out of order; reads must come back sorted
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, testDB.SaveMessage(ctx, msgs[i]))
	}

	got, err := testDB.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		assert.Equal(t, msgs[i].ID, m.ID)
		assert.Equal(t, msgs[i].Sequence, m.Sequence)
		assert.Equal(t, msgs[i].Type, m.Type)
		assert.Equal(t, msgs[i].ReferencedMessageID, m.ReferencedMessageID)
	}
	assert.True(t, got[2].Metadata.Error)

	_, err = messagelog.Replay(sessionID, got)
	assert.NoError(t, err, "stored log must replay cleanly")
}

func TestSaveMessageRejectsDuplicateSequence(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.NewString()
	t.Cleanup(func() { _ = testDB.DeleteSession(ctx, sessionID) })

	msgs := testMessages(sessionID)
	require.NoError(t, testDB.SaveMessage(ctx, msgs[0]))

	dup := msgs[1]
	dup.Sequence = 1
	assert.ErrorIs(t, testDB.SaveMessage(ctx, dup), ErrAlreadyExists)
}

func TestSessionUpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { _ = testDB.DeleteSession(ctx, id) })

	snap := debate.SessionSnapshot{
		ID:           id,
		PolicyID:     "water-act",
		PolicyTitle:  "Water Act",
		State:        debate.StateRoundInProgress,
		Stakeholders: []debate.StakeholderAgent{{ID: "farmers", DisplayName: "Farmers"}},
		Topics:       []debate.Topic{{ID: "allocation", Title: "Allocation"}},
		SpeakingTime: map[string]int{"farmers": 1},
		LastSequence: 2,
		Config:       debate.DefaultSystemConfig(),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, testDB.SaveSession(ctx, snap))

	snap.State = debate.StatePaused
	snap.ResumeState = debate.StateRoundInProgress
	snap.Controller = "alice"
	require.NoError(t, testDB.SaveSession(ctx, snap))

	got, err := testDB.LoadSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, debate.StatePaused, got.State)
	assert.Equal(t, debate.StateRoundInProgress, got.ResumeState)
	assert.Equal(t, "alice", got.Controller)
	assert.Equal(t, "Water Act", got.PolicyTitle)
	require.Len(t, got.Stakeholders, 1)
	assert.Equal(t, "farmers", got.Stakeholders[0].ID)

	list, err := testDB.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	_, err = testDB.LoadSession(ctx, "missing-"+id)
	assert.ErrorIs(t, err, debate.ErrNotFound)
}

func TestPolicyCRUD(t *testing.T) {
	ctx := context.Background()
	p := debate.Policy{
		ID:    "test-water-act",
		Title: "Water Act",
		Text:  "Allocates river water.",
		Stakeholders: []debate.StakeholderProfile{
			{Name: "Farmers", Stance: "oppose", Concerns: []string{"irrigation"}},
		},
		Topics: []debate.TopicDraft{{Title: "Allocation", Priority: 3}},
	}
	require.NoError(t, testDB.SavePolicy(ctx, p, "policies/water-act.md"))

	got, err := testDB.LoadPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Text, got.Text)
	require.Len(t, got.Stakeholders, 1)
	assert.Equal(t, []string{"irrigation"}, got.Stakeholders[0].Concerns)

	list, err := testDB.ListPolicies(ctx)
	require.NoError(t, err)
	found := false
	for _, s := range list {
		if s.ID == p.ID {
			found = true
			assert.Equal(t, "policies/water-act.md", s.Source)
		}
	}
	assert.True(t, found)

	require.NoError(t, testDB.DeletePolicy(ctx, p.ID))
	assert.ErrorIs(t, testDB.DeletePolicy(ctx, p.ID), debate.ErrNotFound)

	_, err = testDB.LoadPolicy(ctx, p.ID)
	assert.ErrorIs(t, err, debate.ErrConfiguration)
}

// Runs last: it clears what the other tests stored.
func TestWipeData(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.NewString()
	for _, msg := range testMessages(sessionID) {
		require.NoError(t, testDB.SaveMessage(ctx, msg))
	}
	require.NoError(t, testDB.SavePolicy(ctx, debate.Policy{ID: "wipe-me", Title: "Wipe", Text: "x"}, ""))

	require.NoError(t, testDB.WipeData(ctx))

	msgs, err := testDB.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	policies, err := testDB.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)
}
