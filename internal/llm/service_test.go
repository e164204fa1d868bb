package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/metrics"
)

// stubLLM answers with canned responses in order, repeating the last one.
type stubLLM struct {
	responses []string
	err       error
	prompts   []string
}

func (s *stubLLM) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if text, ok := msgs[len(msgs)-1].Parts[0].(llms.TextContent); ok {
		s.prompts = append(s.prompts, text.Text)
	}
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        r,
		GenerationInfo: map[string]any{"PromptTokens": 10, "CompletionTokens": 5},
	}}}, nil
}

func (s *stubLLM) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func newTestService(stub *stubLLM) (*Service, *metrics.Collector) {
	m := metrics.NewCollector()
	return NewService(NewModelFrom(stub, "stub", 0.5, 200), m, nil), m
}

func argumentRequest() debate.ArgumentRequest {
	farmers := debate.StakeholderAgent{ID: "farmers", DisplayName: "Farmers", Persona: debate.Persona{Stance: "oppose", Concerns: []string{"costs"}}}
	city := debate.StakeholderAgent{ID: "city", DisplayName: "City Council"}
	return debate.ArgumentRequest{
		PolicyTitle:  "Clean Water Act",
		Speaker:      farmers,
		Participants: []debate.StakeholderAgent{farmers, city},
		Topic:        debate.Topic{ID: "pricing", Title: "Pricing", KeyQuestions: []string{"Who pays?"}},
		Type:         debate.MessageClaim,
	}
}

func TestGenerateArgument(t *testing.T) {
	stub := &stubLLM{responses: []string{"Sure! ```json\n{\"argument\": \"  Water prices will ruin us.  \"}\n```"}}
	svc, m := newTestService(stub)

	text, err := svc.GenerateArgument(context.Background(), argumentRequest())
	require.NoError(t, err)
	assert.Equal(t, "Water prices will ruin us.", text)

	require.Len(t, stub.prompts, 1)
	assert.Contains(t, stub.prompts[0], "Topic: Pricing")
	assert.Contains(t, stub.prompts[0], "- Who pays?")
	assert.Contains(t, stub.prompts[0], "Other participants: City Council")
	assert.Contains(t, stub.prompts[0], "main claim")

	snap := m.Snapshot()
	require.NotNil(t, snap.GenerateArgument)
	assert.Equal(t, int64(1), snap.GenerateArgument.Count)
	require.NotNil(t, snap.GenerateArgument.TotalInputTokens)
	assert.Equal(t, int64(10), *snap.GenerateArgument.TotalInputTokens)
}

func TestGenerateArgumentRebuttalAndInterjectionPrompts(t *testing.T) {
	stub := &stubLLM{responses: []string{`{"argument": "x"}`}}
	svc, _ := newTestService(stub)

	req := argumentRequest()
	req.Type = debate.MessageRebuttal
	req.ReplyTo = &debate.Message{SenderName: "City Council", Content: "Prices must rise."}
	req.Context = []debate.Message{*req.ReplyTo}
	_, err := svc.GenerateArgument(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, stub.prompts[0], "Rebut this argument from City Council")
	assert.Contains(t, stub.prompts[0], "Recent debate:\nCity Council: Prices must rise.")

	req.Interjection = "What about small farms?"
	_, err = svc.GenerateArgument(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, stub.prompts[1], `An audience member asked: "What about small farms?"`)
}

func TestGenerateArgumentRejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"prose", "I think water should be free."},
		{"empty argument", `{"argument": ""}`},
		{"wrong type", `{"argument": 42}`},
		{"broken json", `{"argument": "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(&stubLLM{responses: []string{tt.response}})
			_, err := svc.GenerateArgument(context.Background(), argumentRequest())
			assert.ErrorIs(t, err, debate.ErrGeneration)
		})
	}
}

func TestGenerateArgumentProviderError(t *testing.T) {
	svc, _ := newTestService(&stubLLM{err: errors.New("invalid api key")})
	_, err := svc.GenerateArgument(context.Background(), argumentRequest())
	assert.ErrorIs(t, err, debate.ErrGeneration)
	assert.ErrorIs(t, err, ErrFatalAPI)
}

func TestGenerateConclusion(t *testing.T) {
	stub := &stubLLM{responses: []string{`{"summary": "Both sides care about rivers.", "agreements": ["Clean rivers matter"], "recommendations": ["Phase in pricing"]}`}}
	svc, _ := newTestService(stub)

	text, err := svc.GenerateConclusion(context.Background(), debate.ConclusionRequest{
		PolicyTitle: "Clean Water Act",
		Topics:      []debate.Topic{{Title: "Pricing"}},
		Messages: []debate.Message{
			{SenderName: "Moderator", Type: debate.MessageIntro, Content: "Welcome"},
			{SenderName: "Farmers", Type: debate.MessageClaim, Content: "Too expensive"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Both sides care about rivers.\n\nPoints of agreement:\n- Clean rivers matter\n\nRecommendations:\n- Phase in pricing", text)
	assert.Contains(t, stub.prompts[0], "Farmers: Too expensive")
	assert.NotContains(t, stub.prompts[0], "Welcome")
}

func TestAnalyzer(t *testing.T) {
	stub := &stubLLM{responses: []string{
		`{"stakeholders": [{"name": " Farmers ", "stance": "oppose", "concerns": ["costs"]}, {"name": "City", "stance": "support"}]}`,
		`{"topics": [{"title": "Pricing", "priority": 3, "stakeholders": ["Farmers"]}, {"title": "Enforcement", "priority": 1}]}`,
	}}
	svc, m := newTestService(stub)
	ctx := context.Background()
	policy := "# Clean Water Act\n\n## Pricing\n\nWater costs more.\n"

	profiles, err := svc.IdentifyStakeholders(ctx, policy)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Farmers", profiles[0].Name)

	topics, err := svc.ExtractTopics(ctx, policy, profiles)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "Pricing", topics[0].Title)
	assert.Equal(t, 3, topics[0].Priority)
	assert.Equal(t, []string{"Farmers"}, topics[0].Stakeholders)
	assert.Contains(t, stub.prompts[1], "Document outline:\n# Clean Water Act\n# Clean Water Act > ## Pricing")
	assert.Contains(t, stub.prompts[1], "- Farmers (oppose)")

	assert.Equal(t, int64(2), m.Snapshot().Analyze.Count)
}

func TestAnalyzerRejectsEmptyLists(t *testing.T) {
	svc, _ := newTestService(&stubLLM{responses: []string{`{"stakeholders": []}`}})
	_, err := svc.IdentifyStakeholders(context.Background(), "policy")
	assert.ErrorIs(t, err, debate.ErrGeneration)
}
