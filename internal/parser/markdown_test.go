package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

const waterAct = `---
title: Clean Water Act
stakeholders:
  - name: Farmers Union
    stance: opposes tighter runoff limits
    concerns: [irrigation costs, crop yields]
    style: [plainspoken]
  - name: City Council
    stance: supports the act
topics:
  - title: Runoff limits
    priority: 5
    key_questions: ["Who pays for compliance?"]
    stakeholders: [Farmers Union]
---
# Ignored heading title

## Purpose
Reduce nitrate runoff.

## Scope
### Exemptions
Small farms under 10 hectares.
`

func TestParsePolicy(t *testing.T) {
	doc, err := ParsePolicy(waterAct)
	require.NoError(t, err)

	assert.Equal(t, "Clean Water Act", doc.Title, "frontmatter title wins")
	require.Len(t, doc.Frontmatter.Stakeholders, 2)
	assert.Equal(t, []string{"irrigation costs", "crop yields"}, doc.Frontmatter.Stakeholders[0].Concerns)
	assert.Equal(t, []string{"plainspoken"}, doc.Frontmatter.Stakeholders[0].Style)
	require.Len(t, doc.Frontmatter.Topics, 1)
	assert.Equal(t, 5, doc.Frontmatter.Topics[0].Priority)
	assert.Equal(t, []string{"Farmers Union"}, doc.Frontmatter.Topics[0].Stakeholders)

	assert.NotContains(t, doc.Content, "stakeholders:")
	assert.Contains(t, doc.Content, "Reduce nitrate runoff.")

	require.Len(t, doc.Sections, 4)
	assert.Equal(t, "# Ignored heading title > ## Scope > ### Exemptions", doc.Sections[3].Path)
	assert.Equal(t, "Small farms under 10 hectares.", doc.Sections[3].Content)
	assert.Contains(t, doc.Outline(), "## Purpose")

	p := doc.Policy("clean-water-act")
	assert.Equal(t, "clean-water-act", p.ID)
	assert.Equal(t, doc.Content, p.Text)
}

func TestParsePolicyWithoutFrontmatter(t *testing.T) {
	doc, err := ParsePolicy("# Transit Levy\r\n\r\nA levy on parking.\r\n")
	require.NoError(t, err)
	assert.Equal(t, "Transit Levy", doc.Title)
	assert.Empty(t, doc.Frontmatter.Stakeholders)
	assert.Equal(t, "transit", doc.Policy("transit").ID)
}

func TestParsePolicyRejectsBrokenFrontmatter(t *testing.T) {
	_, err := ParsePolicy("---\nstakeholders: [unclosed\n---\nbody\n")
	assert.ErrorIs(t, err, debate.ErrConfiguration)
}

func TestFrontmatterIDOverridesFallback(t *testing.T) {
	doc, err := ParsePolicy("---\nid: water-2026\n---\ntext\n")
	require.NoError(t, err)
	assert.Equal(t, "water-2026", doc.Policy("file-name").ID)
}
