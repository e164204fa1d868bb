package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/parser"
)

// Offline is a deterministic stand-in for a model. It builds arguments from the
// speaker's persona and derives stakeholders and topics from keywords and the
// document's headings.
type Offline struct {
	// Latency delays every call to make pacing visible in demos.
	Latency time.Duration
}

// NewOffline creates an Offline generator.
func NewOffline(latency time.Duration) *Offline {
	return &Offline{Latency: latency}
}

func (o *Offline) wait(ctx context.Context) error {
	if o.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateArgument implements debate.Generator.
func (o *Offline) GenerateArgument(ctx context.Context, req debate.ArgumentRequest) (string, error) {
	if err := o.wait(ctx); err != nil {
		return "", err
	}

	p := req.Speaker.Persona
	concern := "the practical consequences"
	if len(p.Concerns) > 0 {
		concern = p.Concerns[(len(req.Context)+req.Topic.Priority)%len(p.Concerns)]
	}
	stance := p.Stance
	if stance == "" {
		stance = "have reservations"
	}

	switch {
	case req.Interjection != "":
		return fmt.Sprintf("On the question %q: speaking for %s, our answer comes down to %s. We %s.",
			req.Interjection, req.Speaker.DisplayName, concern, stance), nil
	case req.ReplyTo != nil:
		return fmt.Sprintf("%s makes a fair point, but it overlooks %s. On %s we %s.",
			speakerName(*req.ReplyTo), concern, strings.ToLower(req.Topic.Title), stance), nil
	default:
		return fmt.Sprintf("On %s, %s %s. Our main concern is %s.",
			strings.ToLower(req.Topic.Title), req.Speaker.DisplayName, stance, concern), nil
	}
}

// GenerateConclusion implements debate.Generator.
func (o *Offline) GenerateConclusion(ctx context.Context, req debate.ConclusionRequest) (string, error) {
	if err := o.wait(ctx); err != nil {
		return "", err
	}

	names := make([]string, 0, len(req.Participants))
	for _, a := range req.Participants {
		names = append(names, a.DisplayName)
	}
	titles := make([]string, 0, len(req.Topics))
	for _, t := range req.Topics {
		titles = append(titles, t.Title)
	}

	arguments := 0
	for _, m := range req.Messages {
		if m.Type.CountsAsSpeech() {
			arguments++
		}
	}

	return renderConclusion(conclusionOutput{
		Summary: fmt.Sprintf("%s discussed %s over %d arguments.",
			strings.Join(names, ", "), req.PolicyTitle, arguments),
		Disagreements:   titles,
		Recommendations: []string{"Revisit the contested topics with the affected groups before adoption."},
	}), nil
}

type keywordProfile struct {
	keywords []string
	profile  debate.StakeholderProfile
}

var knownStakeholders = []keywordProfile{
	{[]string{"farm", "agricultur", "irrigat"}, debate.StakeholderProfile{Name: "Farmers", Stance: "worry about rising costs", Concerns: []string{"operating costs", "water access"}, Style: []string{"pragmatic"}}},
	{[]string{"business", "industr", "compan", "employer"}, debate.StakeholderProfile{Name: "Industry", Stance: "support clear rules but oppose heavy compliance burdens", Concerns: []string{"compliance costs", "competitiveness"}, Style: []string{"data-driven"}}},
	{[]string{"environment", "climate", "river", "emission", "pollut"}, debate.StakeholderProfile{Name: "Environmental Groups", Stance: "support stronger protections", Concerns: []string{"ecosystem health", "enforcement"}, Style: []string{"passionate"}}},
	{[]string{"worker", "employee", "labor", "labour", "wage"}, debate.StakeholderProfile{Name: "Workers", Stance: "want job security guaranteed", Concerns: []string{"jobs", "wages"}, Style: []string{"direct"}}},
	{[]string{"tax", "budget", "fund", "cost"}, debate.StakeholderProfile{Name: "Taxpayers", Stance: "question the cost", Concerns: []string{"public spending", "value for money"}, Style: []string{"skeptical"}}},
	{[]string{"tenant", "housing", "rent", "homeowner"}, debate.StakeholderProfile{Name: "Residents", Stance: "want affordable homes", Concerns: []string{"affordability", "neighbourhood character"}, Style: []string{"personal"}}},
}

var fallbackStakeholders = []debate.StakeholderProfile{
	{Name: "Government", Stance: "support the policy", Concerns: []string{"implementation", "public trust"}, Style: []string{"measured"}},
	{Name: "Citizens", Stance: "are cautious about the policy", Concerns: []string{"fairness", "daily impact"}, Style: []string{"personal"}},
}

// IdentifyStakeholders implements debate.StakeholderIdentifier.
func (o *Offline) IdentifyStakeholders(ctx context.Context, policyText string) ([]debate.StakeholderProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(policyText)
	var out []debate.StakeholderProfile
	for _, k := range knownStakeholders {
		for _, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				out = append(out, k.profile)
				break
			}
		}
	}
	for _, f := range fallbackStakeholders {
		if len(out) >= 2 {
			break
		}
		out = append(out, f)
	}
	return out, nil
}

// ExtractTopics implements debate.TopicExtractor. Every second-level heading
// becomes a topic, earlier headings first.
func (o *Offline) ExtractTopics(ctx context.Context, policyText string, _ []debate.StakeholderProfile) ([]debate.TopicDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := parser.ParsePolicy(policyText)
	if err != nil {
		return nil, err
	}

	var headings []parser.Section
	for _, s := range doc.Sections {
		if s.Level == 2 {
			headings = append(headings, s)
		}
	}

	if len(headings) == 0 {
		title := doc.Title
		if title == "" {
			title = "the policy"
		}
		return []debate.TopicDraft{{
			Title:        "Overall merits",
			Description:  fmt.Sprintf("Whether %s should be adopted as written.", title),
			Priority:     1,
			KeyQuestions: []string{"Who benefits?", "Who bears the cost?"},
		}}, nil
	}

	drafts := make([]debate.TopicDraft, 0, len(headings))
	for i, s := range headings {
		drafts = append(drafts, debate.TopicDraft{
			Title:        s.Heading,
			Description:  firstSentence(s.Content),
			Priority:     len(headings) - i,
			KeyQuestions: []string{fmt.Sprintf("What does %s change in practice?", strings.ToLower(s.Heading))},
		})
	}
	return drafts, nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.Index(line, ". "); i >= 0 {
			return line[:i+1]
		}
		return line
	}
	return ""
}
