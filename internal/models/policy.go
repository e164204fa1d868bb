package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// Policy is a stored policy document with optional declared stakeholders and topics.
type Policy struct {
	ID           surrealmodels.RecordID      `json:"id"`
	Title        string                      `json:"title"`
	Text         string                      `json:"text"`
	Stakeholders []debate.StakeholderProfile `json:"stakeholders"`
	Topics       []debate.TopicDraft         `json:"topics"`
	Source       *string                     `json:"source,omitempty"`
	Created      time.Time                   `json:"created,omitempty"`
	Updated      time.Time                   `json:"updated,omitempty"`
}

// PolicySummary is the listing view of a stored policy.
type PolicySummary struct {
	ID      surrealmodels.RecordID `json:"id"`
	Title   string                 `json:"title"`
	Source  *string                `json:"source,omitempty"`
	Updated time.Time              `json:"updated,omitempty"`
}

// Domain converts the record into the policy a session is created from.
func (p Policy) Domain() (debate.Policy, error) {
	id, err := RecordIDString(p.ID)
	if err != nil {
		return debate.Policy{}, err
	}
	return debate.Policy{
		ID:           id,
		Title:        p.Title,
		Text:         p.Text,
		Stakeholders: p.Stakeholders,
		Topics:       p.Topics,
	}, nil
}
