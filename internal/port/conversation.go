package port

import (
	"context"

	"ragchat/internal/domain"
)

// ConversationStore owns every session and its turns.
type ConversationStore interface {
	// History returns a copy of the session's turns in append order.
	// Unknown sessions are created empty.
	History(sessionID string) []domain.Turn

	Append(sessionID, question, answer string) domain.Turn

	// Acquire takes the session's lease so that a read-modify-append
	// sequence is not interleaved with another request on the same session.
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}
