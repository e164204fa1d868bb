// Package policy provides the policy sources a session can be created from: a
// directory of Markdown documents, an in-memory store, and a catalog that chains
// them with the database.
package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/models"
	"github.com/raphaelgruber/policy-debate/internal/parser"
)

// Source is a policy source that can also enumerate its policies.
type Source interface {
	debate.PolicySource
	ListPolicies(ctx context.Context) ([]debate.PolicySummary, error)
}

// Writer is a Source that accepts imports and removals.
type Writer interface {
	Source
	SavePolicy(ctx context.Context, p debate.Policy, source string) error
	// DeletePolicy returns debate.ErrNotFound for unknown policies.
	DeletePolicy(ctx context.Context, id string) error
}

// Parse parses a Markdown policy document. name is used for the ID when the
// frontmatter declares none.
func Parse(name, content string) (debate.Policy, error) {
	doc, err := parser.ParsePolicy(content)
	if err != nil {
		return debate.Policy{}, err
	}
	p := doc.Policy(ID(name))
	if p.ID == "" {
		return debate.Policy{}, fmt.Errorf("%w: policy needs an id or a title", debate.ErrConfiguration)
	}
	if p.Title == "" {
		p.Title = p.ID
	}
	if strings.TrimSpace(p.Text) == "" {
		return debate.Policy{}, fmt.Errorf("%w: policy %s has no text", debate.ErrConfiguration, p.ID)
	}
	return p, nil
}

// ID derives a policy ID from a file name or title.
func ID(name string) string {
	name = strings.TrimSuffix(name, ".md")
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.Trim(models.Slugify(name), "-")
}

// Memory is an in-memory Writer used when no database is configured.
type Memory struct {
	mu       sync.RWMutex
	policies map[string]memoryEntry
}

type memoryEntry struct {
	policy debate.Policy
	source string
}

// NewMemory creates a Memory preloaded with policies.
func NewMemory(policies ...debate.Policy) *Memory {
	m := &Memory{policies: make(map[string]memoryEntry, len(policies))}
	for _, p := range policies {
		m.policies[p.ID] = memoryEntry{policy: p}
	}
	return m
}

// LoadPolicy implements debate.PolicySource.
func (m *Memory) LoadPolicy(_ context.Context, id string) (debate.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.policies[id]
	if !ok {
		return debate.Policy{}, fmt.Errorf("%w: unknown policy %s", debate.ErrConfiguration, id)
	}
	return e.policy, nil
}

// SavePolicy stores or replaces p.
func (m *Memory) SavePolicy(_ context.Context, p debate.Policy, source string) error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty policy id", debate.ErrConfiguration)
	}
	m.mu.Lock()
	m.policies[p.ID] = memoryEntry{policy: p, source: source}
	m.mu.Unlock()
	return nil
}

// DeletePolicy removes a policy.
func (m *Memory) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return fmt.Errorf("%w: policy %s", debate.ErrNotFound, id)
	}
	delete(m.policies, id)
	return nil
}

// ListPolicies returns all policies sorted by ID.
func (m *Memory) ListPolicies(context.Context) ([]debate.PolicySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]debate.PolicySummary, 0, len(m.policies))
	for _, e := range m.policies {
		out = append(out, debate.PolicySummary{ID: e.policy.ID, Title: e.policy.Title, Source: e.source, Origin: "memory"})
	}
	slices.SortFunc(out, func(a, b debate.PolicySummary) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Catalog chains sources. Loads try each source in order and skip sources that
// do not know the policy; imports go to the writable source.
type Catalog struct {
	writable Writer
	sources  []Source
}

// NewCatalog creates a catalog. writable may be nil, in which case imports fail.
// It is consulted first.
func NewCatalog(writable Writer, sources ...Source) *Catalog {
	c := &Catalog{writable: writable}
	if writable != nil {
		c.sources = append(c.sources, writable)
	}
	c.sources = append(c.sources, sources...)
	return c
}

// LoadPolicy implements debate.PolicySource.
func (c *Catalog) LoadPolicy(ctx context.Context, id string) (debate.Policy, error) {
	var lastErr error
	for _, s := range c.sources {
		p, err := s.LoadPolicy(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, debate.ErrConfiguration) {
			return debate.Policy{}, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: unknown policy %s", debate.ErrConfiguration, id)
	}
	return debate.Policy{}, lastErr
}

// ListPolicies merges the listings, earlier sources shadowing later ones.
func (c *Catalog) ListPolicies(ctx context.Context) ([]debate.PolicySummary, error) {
	seen := map[string]bool{}
	var out []debate.PolicySummary
	for _, s := range c.sources {
		list, err := s.ListPolicies(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	if out == nil {
		out = []debate.PolicySummary{}
	}
	return out, nil
}

// Import parses a Markdown document and saves it to the writable source.
func (c *Catalog) Import(ctx context.Context, name, content string) (debate.Policy, error) {
	if c.writable == nil {
		return debate.Policy{}, fmt.Errorf("%w: no writable policy store", debate.ErrConfiguration)
	}
	p, err := Parse(name, content)
	if err != nil {
		return debate.Policy{}, err
	}
	if err := c.writable.SavePolicy(ctx, p, name); err != nil {
		return debate.Policy{}, err
	}
	return p, nil
}

// Delete removes an imported policy. Library documents cannot be deleted.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if c.writable == nil {
		return fmt.Errorf("%w: policy %s", debate.ErrNotFound, id)
	}
	return c.writable.DeletePolicy(ctx, id)
}
