package scheduler

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

const moderatorName = "Moderator"

func introText(policy string, agents []debate.StakeholderAgent, topics []debate.Topic, rounds int) string {
	var b strings.Builder
	if policy != "" {
		fmt.Fprintf(&b, "Welcome to the debate on %q.", policy)
	} else {
		b.WriteString("Welcome to the debate.")
	}

	parts := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.Persona.Stance != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", a.DisplayName, a.Persona.Stance))
		} else {
			parts = append(parts, a.DisplayName)
		}
	}
	fmt.Fprintf(&b, " Today's participants: %s.", strings.Join(parts, ", "))

	titles := make([]string, 0, len(topics))
	for i, t := range topics {
		titles = append(titles, fmt.Sprintf("%d. %s", i+1, t.Title))
	}
	fmt.Fprintf(&b, " We will cover %d topic(s): %s.", len(topics), strings.Join(titles, "; "))
	fmt.Fprintf(&b, " Each topic runs for %d round(s).", rounds)
	return b.String()
}

func transitionText(next debate.Topic, index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Moving on to topic %d of %d: %s.", index+1, total, next.Title)
	if next.Description != "" {
		fmt.Fprintf(&b, " %s", strings.TrimSpace(next.Description))
	}
	if len(next.KeyQuestions) > 0 {
		fmt.Fprintf(&b, " Key questions: %s", strings.Join(next.KeyQuestions, " "))
	}
	return b.String()
}

func wrapUpText(topic debate.Topic, rounds int, agents []debate.StakeholderAgent, speaking map[string]int) string {
	counts := make([]string, 0, len(agents))
	for _, a := range agents {
		counts = append(counts, fmt.Sprintf("%s %d", a.DisplayName, speaking[a.ID]))
	}
	return fmt.Sprintf("That concludes %q after %d round(s). Contributions so far: %s.",
		topic.Title, rounds, strings.Join(counts, ", "))
}

func balanceText(agents []debate.StakeholderAgent, speaking map[string]int, least []string, byID map[string]debate.StakeholderAgent) string {
	counts := make([]string, 0, len(agents))
	for _, a := range agents {
		counts = append(counts, fmt.Sprintf("%s: %d", a.DisplayName, speaking[a.ID]))
	}
	names := make([]string, 0, len(least))
	for _, id := range least {
		names = append(names, byID[id].DisplayName)
	}
	return fmt.Sprintf("Participation has become uneven (%s). %s will speak first in the next round.",
		strings.Join(counts, ", "), strings.Join(names, " and "))
}

func acknowledgmentText(question string, responders []string) string {
	if len(responders) == 0 {
		return fmt.Sprintf("Thank you for your question: %q.", question)
	}
	return fmt.Sprintf("Thank you for your question: %q. %s, please respond.", question, strings.Join(responders, " and "))
}

func argumentStub(speaker debate.StakeholderAgent, typ debate.MessageType) string {
	return fmt.Sprintf("[%s could not deliver a %s this turn.]", speaker.DisplayName, typ)
}

func conclusionStub(policy string, messages, topics int) string {
	if policy == "" {
		policy = "this policy"
	}
	return fmt.Sprintf("[The moderator could not synthesize a conclusion for %s. The debate produced %d message(s) across %d topic(s).]",
		policy, messages, topics)
}
