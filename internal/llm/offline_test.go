package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

func TestOfflineArguments(t *testing.T) {
	o := NewOffline(0)
	ctx := context.Background()
	req := argumentRequest()

	claim, err := o.GenerateArgument(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "On pricing, Farmers oppose. Our main concern is costs.", claim)

	req.ReplyTo = &debate.Message{SenderName: "City Council"}
	rebuttal, err := o.GenerateArgument(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, rebuttal, "City Council makes a fair point")

	req.Interjection = "Why now?"
	answer, err := o.GenerateArgument(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, answer, `"Why now?"`)
}

func TestOfflineHonorsCancellation(t *testing.T) {
	o := NewOffline(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.GenerateArgument(ctx, argumentRequest())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = o.GenerateConclusion(ctx, debate.ConclusionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOfflineConclusion(t *testing.T) {
	text, err := NewOffline(0).GenerateConclusion(context.Background(), debate.ConclusionRequest{
		PolicyTitle:  "Clean Water Act",
		Participants: []debate.StakeholderAgent{{DisplayName: "Farmers"}, {DisplayName: "City"}},
		Topics:       []debate.Topic{{Title: "Pricing"}},
		Messages: []debate.Message{
			{Type: debate.MessageClaim},
			{Type: debate.MessageRebuttal},
			{Type: debate.MessageWrapUp},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, text, "Farmers, City discussed Clean Water Act over 2 arguments.")
	assert.Contains(t, text, "Points of disagreement:\n- Pricing")
}

func TestOfflineIdentifyStakeholders(t *testing.T) {
	o := NewOffline(0)
	ctx := context.Background()

	profiles, err := o.IdentifyStakeholders(ctx, "Farmers must pay for irrigation water drawn from the river.")
	require.NoError(t, err)
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Farmers", "Environmental Groups"}, names)

	profiles, err = o.IdentifyStakeholders(ctx, "Nothing recognisable.")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Government", profiles[0].Name)
}

func TestOfflineExtractTopics(t *testing.T) {
	o := NewOffline(0)
	ctx := context.Background()

	topics, err := o.ExtractTopics(ctx, "# Act\n\n## Pricing\n\nWater costs more. Much more.\n\n### Detail\n\nx\n\n## Enforcement\n\nFines apply.\n", nil)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "Pricing", topics[0].Title)
	assert.Equal(t, "Water costs more.", topics[0].Description)
	assert.Equal(t, 2, topics[0].Priority)
	assert.Equal(t, "Enforcement", topics[1].Title)
	assert.Equal(t, 1, topics[1].Priority)

	topics, err = o.ExtractTopics(ctx, "# Act\n\nJust text.\n", nil)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Overall merits", topics[0].Title)
}
