package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/gateway"
)

func TestFormatFrame(t *testing.T) {
	round := 1
	tests := []struct {
		name  string
		frame gateway.Frame
		want  []string
	}{
		{
			name: "stakeholder message",
			frame: gateway.Frame{Type: "debate_message", Sequence: 2, Sender: "farmers-union", SenderName: "Farmers Union",
				MessageType: debate.MessageClaim, Content: "Farms need water.", Round: &round},
			want: []string{"2", "Farmers Union", "(claim)", "Farms need water."},
		},
		{
			name: "failed generation",
			frame: gateway.Frame{Type: "debate_message", Sequence: 3, Sender: "city-council", MessageType: debate.MessageRebuttal,
				Content: "[unavailable]", Metadata: &debate.Metadata{Error: true}},
			want: []string{"city-council", "[generation failed]"},
		},
		{
			name:  "status",
			frame: gateway.Frame{Type: "status", Sequence: 5, Message: debate.StatusPaused, State: debate.StatePaused},
			want:  []string{"debate_paused", "(paused)"},
		},
		{
			name:  "error",
			frame: gateway.Frame{Type: "error", Code: debate.CodeNotController, Message: "controlled by another client"},
			want:  []string{"not_controller", "controlled by another client"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := defaultTheme.formatFrame(tt.frame)
			for _, w := range tt.want {
				assert.Contains(t, line, w)
			}
		})
	}

	late := gateway.Frame{Type: "debate_message", Sequence: 9, Content: "late", Metadata: &debate.Metadata{PostTermination: true}}
	assert.Empty(t, defaultTheme.formatFrame(late))
}

func TestTopicProgress(t *testing.T) {
	topics := []debate.Topic{{ID: "a"}, {ID: "b"}}
	cfg := debate.SystemConfig{MaxRoundsPerTopic: 2}

	assert.Zero(t, topicProgress(nil))
	assert.Zero(t, topicProgress(&debate.SessionSnapshot{State: debate.StateIntroducing}))
	assert.InDelta(t, 0.25, topicProgress(&debate.SessionSnapshot{
		State: debate.StateRoundInProgress, Topics: topics, Config: cfg, CurrentRound: 1,
	}), 0.001)
	assert.InDelta(t, 0.75, topicProgress(&debate.SessionSnapshot{
		State: debate.StateRoundInProgress, Topics: topics, Config: cfg, CurrentTopicIndex: 1, CurrentRound: 1,
	}), 0.001)
	assert.Equal(t, 1.0, topicProgress(&debate.SessionSnapshot{State: debate.StateCompleted, Topics: topics, Config: cfg}))
}

func TestWatchModelCollectsFrames(t *testing.T) {
	m := newWatchModel(nil, nil, "s1")

	next, cmd := m.Update(frameMsg{frame: gateway.Frame{Type: "status", Message: debate.StatusTopicStart, State: debate.StateRoundInProgress}})
	assert.NotNil(t, cmd)
	m = next.(watchModel)
	assert.Len(t, m.lines, 1)

	next, _ = m.Update(frameMsg{frame: gateway.Frame{Type: "debate_message", Content: "late", Metadata: &debate.Metadata{PostTermination: true}}})
	m = next.(watchModel)
	assert.Len(t, m.lines, 1)

	snap := &debate.SessionSnapshot{ID: "s1", PolicyTitle: "Water Act", State: debate.StatePaused}
	next, _ = m.Update(snapshotMsg{snap: snap})
	m = next.(watchModel)
	assert.Contains(t, m.renderContent(), "Water Act")
	assert.Contains(t, m.renderContent(), "[paused]")

	next, _ = m.Update(sentMsg{cmd: debate.CommandResume})
	m = next.(watchModel)
	assert.Contains(t, m.renderContent(), "sent resume_debate")
}
