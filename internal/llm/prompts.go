package llm

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

const argumentSystemTemplate = `You are %s, a stakeholder in a public debate about the policy "%s".
Your stance: %s
Your concerns: %s
Your speaking style: %s

Stay in character. Speak in the first person, in two to four sentences, and argue
from your concerns. Do not invent statistics.

Respond with JSON only: {"argument": "<what you say>"}`

const conclusionSystemPrompt = `You are the neutral moderator of a stakeholder debate. Summarize the
debate fairly, without taking sides.

Respond with JSON only:
{"summary": "...", "agreements": ["..."], "disagreements": ["..."], "recommendations": ["..."]}`

const stakeholdersSystemPrompt = `You are a policy analyst. Identify the distinct stakeholder groups
affected by the policy. For each give a short stance toward the policy, their main concerns and
two or three speech style tags (for example "pragmatic", "data-driven", "passionate").

Respond with JSON only:
{"stakeholders": [{"name": "...", "stance": "...", "concerns": ["..."], "style": ["..."]}]}`

const topicsSystemPrompt = `You are a debate planner. Extract the contested topics of the policy,
most important first. Priority is an integer, higher means debated earlier. List the names of the
stakeholders involved in each topic, using exactly the names given.

Respond with JSON only:
{"topics": [{"title": "...", "description": "...", "priority": 1, "key_questions": ["..."], "stakeholders": ["..."]}]}`

func argumentSystemPrompt(req debate.ArgumentRequest) string {
	p := req.Speaker.Persona
	return fmt.Sprintf(argumentSystemTemplate,
		req.Speaker.DisplayName,
		req.PolicyTitle,
		orNone(p.Stance),
		orNone(strings.Join(p.Concerns, "; ")),
		orNone(strings.Join(p.SpeechStyleTags, ", ")),
	)
}

func argumentPrompt(req debate.ArgumentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic.Title)
	if req.Topic.Description != "" {
		fmt.Fprintf(&b, "%s\n", req.Topic.Description)
	}
	if len(req.Topic.KeyQuestions) > 0 {
		b.WriteString("Key questions:\n")
		for _, q := range req.Topic.KeyQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}

	names := make([]string, 0, len(req.Participants))
	for _, a := range req.Participants {
		if a.ID != req.Speaker.ID {
			names = append(names, a.DisplayName)
		}
	}
	if len(names) > 0 {
		fmt.Fprintf(&b, "Other participants: %s\n", strings.Join(names, ", "))
	}

	if len(req.Context) > 0 {
		b.WriteString("\nRecent debate:\n")
		for _, m := range req.Context {
			fmt.Fprintf(&b, "%s: %s\n", speakerName(m), m.Content)
		}
	}

	b.WriteString("\n")
	switch {
	case req.Interjection != "":
		fmt.Fprintf(&b, "An audience member asked: %q\nAnswer the question from your perspective.", req.Interjection)
	case req.ReplyTo != nil:
		fmt.Fprintf(&b, "Rebut this argument from %s:\n%s", speakerName(*req.ReplyTo), req.ReplyTo.Content)
	default:
		b.WriteString("Open the round with your main claim on this topic.")
	}
	return b.String()
}

func conclusionPrompt(req debate.ConclusionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Policy: %s\n\nTopics:\n", req.PolicyTitle)
	for _, t := range req.Topics {
		fmt.Fprintf(&b, "- %s\n", t.Title)
	}
	b.WriteString("\nTranscript:\n")
	for _, m := range req.Messages {
		if m.Type.CountsAsSpeech() || m.Type == debate.MessageUserInterjection {
			fmt.Fprintf(&b, "%s: %s\n", speakerName(m), m.Content)
		}
	}
	return b.String()
}

func topicsPrompt(policyText, outline string, stakeholders []debate.StakeholderProfile) string {
	var b strings.Builder
	b.WriteString("Stakeholders:\n")
	for _, s := range stakeholders {
		fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.Stance)
	}
	if outline != "" {
		fmt.Fprintf(&b, "\nDocument outline:\n%s\n", outline)
	}
	fmt.Fprintf(&b, "\nPolicy:\n%s", policyText)
	return b.String()
}

func renderConclusion(out conclusionOutput) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(out.Summary))
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n\n%s:", title)
		for _, it := range items {
			fmt.Fprintf(&b, "\n- %s", strings.TrimSpace(it))
		}
	}
	section("Points of agreement", out.Agreements)
	section("Points of disagreement", out.Disagreements)
	section("Recommendations", out.Recommendations)
	return b.String()
}

func speakerName(m debate.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

func orNone(s string) string {
	if s == "" {
		return "none stated"
	}
	return s
}
