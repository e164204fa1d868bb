package debate

import (
	"fmt"
)

// requiresReference lists the message types that must answer an earlier message.
var requiresReference = map[MessageType]bool{
	MessageRebuttal:                true,
	MessageModeratorAcknowledgment: true,
}

// forbidsReference lists the message types that never point at another message.
var forbidsReference = map[MessageType]bool{
	MessageClaim:      true,
	MessageIntro:      true,
	MessageWrapUp:     true,
	MessageConclusion: true,
}

// RequiresReference reports whether messages of type t must carry a ReferencedMessageID.
func RequiresReference(t MessageType) bool {
	return requiresReference[t]
}

// ValidateEnvelope checks the A2A rules that can be verified on a message alone:
// a known type, a sender, a positive sequence, and the reference rules for its type.
// Whether the reference points at an earlier message is checked by the message log.
func ValidateEnvelope(msg Message) error {
	if !msg.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrState, msg.Type)
	}
	if msg.SenderID == "" {
		return fmt.Errorf("%w: %s message has no sender", ErrState, msg.Type)
	}
	if msg.SessionID == "" {
		return fmt.Errorf("%w: %s message has no session", ErrState, msg.Type)
	}
	if msg.Sequence < 1 {
		return fmt.Errorf("%w: sequence %d is not positive", ErrState, msg.Sequence)
	}
	if requiresReference[msg.Type] && msg.ReferencedMessageID == "" {
		return fmt.Errorf("%w: %s message must reference an earlier message", ErrState, msg.Type)
	}
	if forbidsReference[msg.Type] && msg.ReferencedMessageID != "" {
		return fmt.Errorf("%w: %s message must not reference another message", ErrState, msg.Type)
	}
	if msg.ReferencedMessageID != "" && msg.ReferencedMessageID == msg.ID {
		return fmt.Errorf("%w: message %s references itself", ErrState, msg.ID)
	}
	return nil
}
