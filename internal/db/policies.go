package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/models"
)

// SavePolicy creates or replaces a policy. source records where it was imported from.
func (c *Client) SavePolicy(ctx context.Context, p debate.Policy, source string) error {
	if p.ID == "" {
		return fmt.Errorf("save policy: %w: empty id", debate.ErrConfiguration)
	}
	stakeholders := p.Stakeholders
	if stakeholders == nil {
		stakeholders = []debate.StakeholderProfile{}
	}
	topics := p.Topics
	if topics == nil {
		topics = []debate.TopicDraft{}
	}

	sql := `
		UPSERT type::record("policy", $id) SET
			title = $title,
			text = $text,
			stakeholders = $stakeholders,
			topics = $topics,
			source = $source,
			updated = time::now(),
			created = IF created THEN created ELSE time::now() END
	`
	vars := map[string]any{
		"id":           p.ID,
		"title":        p.Title,
		"text":         p.Text,
		"stakeholders": stakeholders,
		"topics":       topics,
		"source":       models.OptionalString(source),
	}
	err := retryConflicts(ctx, func() error {
		_, err := surrealdb.Query[any](ctx, c.db, sql, vars)
		return err
	})
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// GetPolicy returns a stored policy, or debate.ErrNotFound.
func (c *Client) GetPolicy(ctx context.Context, id string) (debate.Policy, error) {
	results, err := surrealdb.Query[[]models.Policy](ctx, c.db, `
		SELECT * FROM type::record("policy", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return debate.Policy{}, fmt.Errorf("get policy: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return debate.Policy{}, fmt.Errorf("%w: policy %s", debate.ErrNotFound, id)
	}
	return (*results)[0].Result[0].Domain()
}

// LoadPolicy implements debate.PolicySource. Unknown policies are a
// configuration error for the session being created.
func (c *Client) LoadPolicy(ctx context.Context, id string) (debate.Policy, error) {
	p, err := c.GetPolicy(ctx, id)
	if errors.Is(err, debate.ErrNotFound) {
		return debate.Policy{}, fmt.Errorf("%w: unknown policy %s", debate.ErrConfiguration, id)
	}
	return p, err
}

// ListPolicies returns summaries of all stored policies, most recently updated first.
func (c *Client) ListPolicies(ctx context.Context) ([]debate.PolicySummary, error) {
	results, err := surrealdb.Query[[]models.PolicySummary](ctx, c.db, `
		SELECT id, title, source, updated FROM policy ORDER BY updated DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []debate.PolicySummary{}, nil
	}

	out := make([]debate.PolicySummary, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		id, err := models.RecordIDString(rec.ID)
		if err != nil {
			return nil, fmt.Errorf("list policies: %w", err)
		}
		s := debate.PolicySummary{ID: id, Title: rec.Title, Origin: "db"}
		if rec.Source != nil {
			s.Source = *rec.Source
		}
		out = append(out, s)
	}
	return out, nil
}

// DeletePolicy removes a policy. Returns debate.ErrNotFound if nothing was deleted.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	results, err := surrealdb.Query[[]models.PolicySummary](ctx, c.db, `
		DELETE type::record("policy", $id) RETURN BEFORE
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("%w: policy %s", debate.ErrNotFound, id)
	}
	return nil
}
