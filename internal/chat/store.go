// Package chat implements the message synchronization engine: optimistic
// local echo for sends, reconciliation of optimistic state against the
// store's confirmed stream, backward pagination, and debounced delivery
// and read acknowledgements. All state is owned by a per-conversation
// Session; nothing is shared across conversations.
package chat

import (
	"context"

	"github.com/raphaelgruber/strand/internal/models"
)

// Store is the persistence and fan-out contract a Session runs against.
// *db.Client satisfies it; tests use an in-memory fake.
type Store interface {
	// Subscribe streams the windowSize most recent messages of a
	// conversation as a full snapshot on every change. The returned
	// function tears the subscription down and closes the channel.
	Subscribe(ctx context.Context, conversationID string, windowSize int) (<-chan []models.Message, func(), error)

	// Page returns up to pageSize messages older than the cursor,
	// oldest first, with the cursor for the next older page. An empty
	// cursor requests the newest page.
	Page(ctx context.Context, conversationID string, pageSize int, cursor string) ([]models.Message, string, bool, error)

	// Append persists a new message and returns the confirmed copy
	// with its store-assigned id and timestamp.
	Append(ctx context.Context, msg models.Message) (models.Message, error)

	// MarkDelivered acknowledges receipt of a message. Idempotent.
	MarkDelivered(ctx context.Context, conversationID, messageID string) error

	// MarkRead records that userID has read a message and advances the
	// status once every recipient has. Idempotent.
	MarkRead(ctx context.Context, conversationID, messageID, userID string) error
}

// ConversationSource resolves conversation documents. Kept separate from
// Store so message-only fakes stay small.
type ConversationSource interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
}
