package debate

import "context"

// Policy is a policy document loaded for a session. Stakeholders and Topics are
// optional declarations; when empty they are derived from Text by the analyzers.
type Policy struct {
	ID           string
	Title        string
	Text         string
	Stakeholders []StakeholderProfile
	Topics       []TopicDraft
}

// PolicySummary is the listing view of an available policy.
type PolicySummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`
	// Origin names the source that provides the policy, for example "library" or "db".
	Origin string `json:"origin"`
}

// StakeholderProfile is a stakeholder as identified in a policy, before it is
// registered as a StakeholderAgent.
type StakeholderProfile struct {
	Name     string   `json:"name" yaml:"name"`
	Stance   string   `json:"stance" yaml:"stance"`
	Concerns []string `json:"concerns" yaml:"concerns"`
	Style    []string `json:"style,omitempty" yaml:"style"`
}

// TopicDraft is an extracted topic before it is loaded into a session's queue.
// Stakeholders names the profiles involved; empty means everyone.
type TopicDraft struct {
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description" yaml:"description"`
	Priority     int      `json:"priority" yaml:"priority"`
	KeyQuestions []string `json:"key_questions" yaml:"key_questions"`
	Stakeholders []string `json:"stakeholders,omitempty" yaml:"stakeholders"`
}

// PolicySource loads policy documents. Missing policies fail with ErrConfiguration.
type PolicySource interface {
	LoadPolicy(ctx context.Context, policyID string) (Policy, error)
}

// StakeholderIdentifier derives the stakeholders of a policy.
type StakeholderIdentifier interface {
	IdentifyStakeholders(ctx context.Context, policyText string) ([]StakeholderProfile, error)
}

// TopicExtractor derives the debate topics of a policy.
type TopicExtractor interface {
	ExtractTopics(ctx context.Context, policyText string, stakeholders []StakeholderProfile) ([]TopicDraft, error)
}

// ArgumentRequest is everything a generator gets for one stakeholder turn.
type ArgumentRequest struct {
	PolicyTitle  string
	Speaker      StakeholderAgent
	Participants []StakeholderAgent
	Topic        Topic
	Type         MessageType
	// Context holds the most recent messages, oldest first.
	Context []Message
	// ReplyTo is the message a rebuttal answers, nil for claims.
	ReplyTo *Message
	// Interjection is the user's text when responding to an interjection.
	Interjection string
}

// ConclusionRequest is the input of the single conclusion call of a session.
type ConclusionRequest struct {
	PolicyTitle  string
	Participants []StakeholderAgent
	Topics       []Topic
	Messages     []Message
}

// Generator produces argument and conclusion text. Implementations must honor
// ctx cancellation; the driver bounds every call with a timeout.
type Generator interface {
	GenerateArgument(ctx context.Context, req ArgumentRequest) (string, error)
	GenerateConclusion(ctx context.Context, req ConclusionRequest) (string, error)
}
