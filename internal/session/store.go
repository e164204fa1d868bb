package session

import (
	"context"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// Store persists sessions and their messages. Writes happen on the driver
// goroutine; failures are logged and never stop a debate.
type Store interface {
	SaveSession(ctx context.Context, snap debate.SessionSnapshot) error
	SaveMessage(ctx context.Context, msg debate.Message) error
	// LoadSession returns debate.ErrNotFound for unknown sessions.
	LoadSession(ctx context.Context, id string) (debate.SessionSnapshot, error)
	// LoadMessages returns the session's messages in sequence order.
	LoadMessages(ctx context.Context, sessionID string) ([]debate.Message, error)
}
