// Package parser parses policy documents written as Markdown with optional YAML
// frontmatter declaring stakeholders and topics.
package parser

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// Frontmatter is the typed YAML header of a policy document.
type Frontmatter struct {
	ID           string                      `yaml:"id"`
	Title        string                      `yaml:"title"`
	Stakeholders []debate.StakeholderProfile `yaml:"stakeholders"`
	Topics       []debate.TopicDraft         `yaml:"topics"`
}

// PolicyDoc represents a parsed policy document.
type PolicyDoc struct {
	Frontmatter Frontmatter

	// Title from frontmatter or the first h1
	Title string

	// Body after the frontmatter
	Content string

	// Structured content by heading
	Sections []Section
}

// Section represents a heading and its content.
type Section struct {
	Level   int    // 1-6 for h1-h6
	Heading string // The heading text
	Path    string // Full path like "## Scope > ### Exemptions"
	Content string // Content under this heading
	Start   int    // Line number where section starts
	End     int    // Line number where section ends
}

// ParsePolicy parses a policy document. Unlike free-form notes, a malformed
// frontmatter block is an error: it would silently drop declared stakeholders.
func ParsePolicy(content string) (*PolicyDoc, error) {
	doc := &PolicyDoc{}
	content = strings.ReplaceAll(content, "\r\n", "\n")

	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx >= 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil {
				return nil, fmt.Errorf("%w: frontmatter: %v", debate.ErrConfiguration, err)
			}
		}
	}

	doc.Content = strings.TrimSpace(remaining)
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Sections = parseSections(remaining)
	return doc, nil
}

// Policy converts the document into a policy with the given fallback ID.
func (d *PolicyDoc) Policy(fallbackID string) debate.Policy {
	id := d.Frontmatter.ID
	if id == "" {
		id = fallbackID
	}
	return debate.Policy{
		ID:           id,
		Title:        d.Title,
		Text:         d.Content,
		Stakeholders: d.Frontmatter.Stakeholders,
		Topics:       d.Frontmatter.Topics,
	}
}

// Outline lists the section paths, one per line.
func (d *PolicyDoc) Outline() string {
	paths := make([]string, 0, len(d.Sections))
	for _, s := range d.Sections {
		paths = append(paths, s.Path)
	}
	return strings.Join(paths, "\n")
}

// extractTitle gets title from frontmatter or first h1.
func extractTitle(fm Frontmatter, content string) string {
	if fm.Title != "" {
		return fm.Title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// parseSections extracts sections from Markdown content.
func parseSections(content string) []Section {
	var sections []Section

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNum := 0
	var currentPath []string
	var currentLevels []int

	var currentSection *Section
	var contentBuilder strings.Builder

	flushSection := func(endLine int) {
		if currentSection != nil {
			currentSection.Content = strings.TrimSpace(contentBuilder.String())
			currentSection.End = endLine
			sections = append(sections, *currentSection)
			contentBuilder.Reset()
		}
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if match := headingRegex.FindStringSubmatch(line); len(match) > 0 {
			flushSection(lineNum - 1)

			level := len(match[1])
			heading := strings.TrimSpace(match[2])

			for len(currentLevels) > 0 && currentLevels[len(currentLevels)-1] >= level {
				currentPath = currentPath[:len(currentPath)-1]
				currentLevels = currentLevels[:len(currentLevels)-1]
			}
			currentPath = append(currentPath, match[1]+" "+heading)
			currentLevels = append(currentLevels, level)

			currentSection = &Section{
				Level:   level,
				Heading: heading,
				Path:    strings.Join(currentPath, " > "),
				Start:   lineNum,
			}
		} else if currentSection != nil {
			contentBuilder.WriteString(line)
			contentBuilder.WriteString("\n")
		}
	}

	flushSection(lineNum)
	return sections
}
