package debate

// EventKind is the outbound frame type.
type EventKind string

const (
	EventMessage EventKind = "debate_message"
	EventStatus  EventKind = "status"
	EventError   EventKind = "error"
)

// Status notices carried by status events.
const (
	StatusRoundStart     = "round_start"
	StatusRoundComplete  = "round_complete"
	StatusTopicStart     = "topic_start"
	StatusDebateComplete = "debate_complete"
	StatusTerminated     = "debate_terminated"
	StatusPaused         = "debate_paused"
	StatusResumed        = "debate_resumed"
	StatusAwaitingUser   = "awaiting_user_response"
)

// Event is one item of a session's outbound stream. Message events mirror the
// log; status and error events are transient and carry the log's last sequence.
type Event struct {
	Kind     EventKind
	Sequence int64
	Message  *Message

	Status string
	State  State

	Code string
	Text string

	// Target restricts delivery to one client. Empty means every subscriber.
	Target string
}

// MessageEvent wraps a logged message.
func MessageEvent(msg Message) Event {
	m := msg
	return Event{Kind: EventMessage, Sequence: msg.Sequence, Message: &m}
}

// StatusEvent builds a transient status notice.
func StatusEvent(status string, state State) Event {
	return Event{Kind: EventStatus, Status: status, State: state}
}

// ErrorEvent builds a transient error notice for target, or for everyone when target is empty.
func ErrorEvent(code, text, target string) Event {
	return Event{Kind: EventError, Code: code, Text: text, Target: target}
}
