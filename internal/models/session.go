package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// DebateSession is the persisted state of a session, rewritten on every state change.
type DebateSession struct {
	ID                surrealmodels.RecordID    `json:"id"`
	PolicyID          string                    `json:"policy_id"`
	PolicyTitle       string                    `json:"policy_title"`
	State             string                    `json:"state"`
	ResumeState       *string                   `json:"resume_state,omitempty"`
	Stakeholders      []debate.StakeholderAgent `json:"stakeholders"`
	Topics            []debate.Topic            `json:"topics"`
	CurrentTopicIndex int                       `json:"current_topic_index"`
	CurrentRound      int                       `json:"current_round"`
	SpeakingTime      map[string]int            `json:"speaking_time"`
	LastSequence      int64                     `json:"last_sequence"`
	Controller        *string                   `json:"controller,omitempty"`
	Config            debate.SystemConfig       `json:"config"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// Snapshot converts the record back into the domain view.
func (s DebateSession) Snapshot() (debate.SessionSnapshot, error) {
	id, err := RecordIDString(s.ID)
	if err != nil {
		return debate.SessionSnapshot{}, err
	}
	snap := debate.SessionSnapshot{
		ID:                id,
		PolicyID:          s.PolicyID,
		PolicyTitle:       s.PolicyTitle,
		State:             debate.State(s.State),
		Stakeholders:      s.Stakeholders,
		Topics:            s.Topics,
		CurrentTopicIndex: s.CurrentTopicIndex,
		CurrentRound:      s.CurrentRound,
		SpeakingTime:      s.SpeakingTime,
		LastSequence:      s.LastSequence,
		Config:            s.Config,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if s.ResumeState != nil {
		snap.ResumeState = debate.State(*s.ResumeState)
	}
	if s.Controller != nil {
		snap.Controller = *s.Controller
	}
	return snap, nil
}
