package debate

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t MessageType, ref string) Message {
	return Message{
		ID:                  "m2",
		SessionID:           "s1",
		Sequence:            2,
		SenderID:            "farmers",
		Type:                t,
		ReferencedMessageID: ref,
	}
}

func TestValidateEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"claim without reference", envelope(MessageClaim, ""), false},
		{"claim with reference", envelope(MessageClaim, "m1"), true},
		{"rebuttal with reference", envelope(MessageRebuttal, "m1"), false},
		{"rebuttal without reference", envelope(MessageRebuttal, ""), true},
		{"acknowledgment without reference", envelope(MessageModeratorAcknowledgment, ""), true},
		{"acknowledgment with reference", envelope(MessageModeratorAcknowledgment, "m1"), false},
		{"intro with reference", envelope(MessageIntro, "m1"), true},
		{"wrap up with reference", envelope(MessageWrapUp, "m1"), true},
		{"conclusion with reference", envelope(MessageConclusion, "m1"), true},
		{"balance may reference", envelope(MessageModeratorBalance, "m1"), false},
		{"status without reference", envelope(MessageStatus, ""), false},
		{"self reference", envelope(MessageRebuttal, "m2"), true},
		{"unknown type", envelope("shout", ""), true},
		{"missing sender", func() Message { m := envelope(MessageClaim, ""); m.SenderID = ""; return m }(), true},
		{"zero sequence", func() Message { m := envelope(MessageClaim, ""); m.Sequence = 0; return m }(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvelope(tt.msg)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrState)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{fmt.Errorf("%w: no topics", ErrConfiguration), CodeConfiguration},
		{fmt.Errorf("wrapped: %w", fmt.Errorf("%w: timeout", ErrGeneration)), CodeGenerationFailed},
		{ErrProtocol, CodeProtocol},
		{ErrState, CodeState},
		{ErrConnection, CodeConnection},
		{ErrNotFound, CodeNotFound},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, Code(tt.err), "Code(%v)", tt.err)
	}
}

func TestSystemConfigDefaultsAndValidate(t *testing.T) {
	cfg := SystemConfig{MaxRoundsPerTopic: 3}.WithDefaults(DefaultSystemConfig())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MaxRoundsPerTopic)
	assert.Equal(t, DefaultGenerationTimeout, cfg.GenerationTimeout)
	assert.Equal(t, DefaultInterjectionResponders, cfg.InterjectionResponders)
	assert.Equal(t, ControlFirstWriter, cfg.ControlPolicy)

	bad := cfg
	bad.ControlPolicy = "anyone"
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)

	bad = cfg
	bad.MaxRoundsPerTopic = -1
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)
}

func TestOverridesApply(t *testing.T) {
	base := DefaultSystemConfig()
	base.TurnDelay = time.Second

	zero, rounds := 0, 4
	var noDelay time.Duration
	cfg := Overrides{
		MaxRoundsPerTopic:      &rounds,
		TurnDelay:              &noDelay,
		InterjectionResponders: &zero,
	}.Apply(base)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.MaxRoundsPerTopic)
	assert.Zero(t, cfg.TurnDelay)
	assert.Zero(t, cfg.InterjectionResponders)
	assert.Equal(t, base.GenerationTimeout, cfg.GenerationTimeout)
	assert.Equal(t, base, Overrides{}.Apply(base))
}

func TestTranscriptSkipsPostTermination(t *testing.T) {
	msgs := []Message{
		{Sequence: 1, SenderID: SenderModerator, Type: MessageIntro, Content: "welcome"},
		{Sequence: 2, SenderID: "a", SenderName: "Farmers", Type: MessageClaim, Content: "claim", Metadata: Metadata{Error: true}},
		{Sequence: 3, SenderID: SenderModerator, Type: MessageStatus, Content: StatusTerminatedEarly},
		{Sequence: 4, SenderID: "b", Type: MessageRebuttal, Content: "late", Metadata: Metadata{PostTermination: true}},
	}
	tr := NewTranscript(msgs)
	require.Len(t, tr.Entries, 3)
	assert.Equal(t, "Farmers", tr.Entries[1].Sender)
	assert.True(t, tr.Entries[1].Stub)

	md := tr.Markdown("Water Act")
	assert.Contains(t, md, "# Water Act")
	assert.Contains(t, md, "claim, unavailable")
	assert.NotContains(t, md, "late")
}
