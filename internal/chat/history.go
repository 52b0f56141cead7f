package chat

import (
	"context"
	"time"
)

// HistoryRepository is the persistence port for conversation history.
// Implementations must return messages ordered by timestamp ascending and
// must treat a single corrupt row as skippable rather than failing a whole
// read.
type HistoryRepository interface {
	// GetMessages loads every persisted message for the user, oldest first.
	GetMessages(ctx context.Context, userID string) ([]Message, error)

	// AddMessages persists one row per message. localTime, when non-zero, is
	// applied uniformly to the whole batch; otherwise the server clock is.
	AddMessages(ctx context.Context, userID string, msgs []Message, localTime time.Time) error

	// GetMessageByID returns a single stored message, or nil when the id is
	// unknown or the row cannot be decoded.
	GetMessageByID(ctx context.Context, userID, messageID string) (*Message, error)
}
