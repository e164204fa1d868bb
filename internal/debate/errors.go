package debate

import (
	"errors"
)

// Error taxonomy. Use errors.Is() to check for these in calling code.
var (
	// ErrConfiguration means policy, stakeholder or topic input is missing or invalid.
	// It is the only fatal kind and aborts session creation before registration.
	ErrConfiguration = errors.New("configuration error")

	// ErrGeneration means the generation adapter failed, timed out or returned output
	// that did not validate. The driver recovers with a stub message.
	ErrGeneration = errors.New("generation error")

	// ErrProtocol means an inbound frame was malformed. Reported to the sending client only.
	ErrProtocol = errors.New("protocol error")

	// ErrState means a command is not valid for the current state. Treated as a no-op.
	ErrState = errors.New("state error")

	// ErrConnection means a viewer transport dropped. Sessions are unaffected.
	ErrConnection = errors.New("connection error")

	// ErrNotFound means the session or policy does not exist.
	ErrNotFound = errors.New("not found")
)

// Wire error codes sent in outbound error events.
const (
	CodeConfiguration    = "configuration_error"
	CodeGenerationFailed = "generation_failed"
	CodeProtocol         = "protocol_error"
	CodeState            = "state_error"
	CodeConnection       = "connection_error"
	CodeNotFound         = "not_found"
	CodeNotController    = "not_controller"
	CodeSlowConsumer     = "slow_consumer"
	CodeInternal         = "internal_error"
)

// Code maps an error to its wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrGeneration):
		return CodeGenerationFailed
	case errors.Is(err, ErrProtocol):
		return CodeProtocol
	case errors.Is(err, ErrState):
		return CodeState
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
