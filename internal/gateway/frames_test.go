package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

func TestParseCommand(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		frame   string
		want    debate.ControlCommand
		wantErr bool
	}{
		{"pause", `{"type":"pause_debate"}`, debate.ControlCommand{Type: debate.CommandPause}, false},
		{"resume", `{"type":"resume_debate"}`, debate.ControlCommand{Type: debate.CommandResume}, false},
		{"end", `{"type":"end_debate"}`, debate.ControlCommand{Type: debate.CommandEnd}, false},
		{"user input", `{"type":"user_input","message":"  What about rivers?  "}`, debate.ControlCommand{Type: debate.CommandUserInput, Payload: "What about rivers?"}, false},
		{"extra fields ignored", `{"type":"end_debate","client":"x"}`, debate.ControlCommand{Type: debate.CommandEnd}, false},
		{"not json", `pause`, debate.ControlCommand{}, true},
		{"not an object", `["pause_debate"]`, debate.ControlCommand{}, true},
		{"missing type", `{"message":"hi"}`, debate.ControlCommand{}, true},
		{"unknown type", `{"type":"shout"}`, debate.ControlCommand{}, true},
		{"user input without message", `{"type":"user_input"}`, debate.ControlCommand{}, true},
		{"user input empty", `{"type":"user_input","message":""}`, debate.ControlCommand{}, true},
		{"user input blank", `{"type":"user_input","message":"   "}`, debate.ControlCommand{}, true},
		{"message wrong type", `{"type":"user_input","message":5}`, debate.ControlCommand{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.frame), "alice", now)
			if tt.wantErr {
				assert.ErrorIs(t, err, debate.ErrProtocol)
				return
			}
			require.NoError(t, err)
			tt.want.Source = "alice"
			tt.want.ReceivedAt = now
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrameEncoding(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := debate.Message{
		ID: "m2", SessionID: "s1", Sequence: 2, SenderID: "farmers", SenderName: "Farmers",
		Type: debate.MessageRebuttal, Content: "No.", ReferencedMessageID: "m1",
		TopicID: "pricing", Round: 0, Timestamp: ts,
	}

	data, err := json.Marshal(EventFrame(debate.MessageEvent(msg)))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "debate_message", "sequence": 2, "id": "m2", "sender": "farmers",
		"sender_name": "Farmers", "content": "No.", "round": 0, "topic_id": "pricing",
		"message_type": "rebuttal", "referenced_message_id": "m1", "metadata": {},
		"timestamp": "2026-03-01T12:00:00Z"
	}`, string(data))

	var back Frame
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, msg, back.DebateMessage("s1"))

	ev := debate.StatusEvent(debate.StatusRoundStart, debate.StateRoundInProgress)
	ev.Sequence = 4
	data, err = json.Marshal(EventFrame(ev))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","sequence":4,"message":"round_start","state":"round_in_progress"}`, string(data))

	data, err = json.Marshal(ErrorFrame(7, debate.CodeProtocol, "bad frame"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","sequence":7,"message":"bad frame","code":"protocol_error"}`, string(data))
}
