package data

import "context"

// ChatStore is the persistence contract for direct-message conversations.
// All operations are scoped to one canonical conversation id. Storage-layer
// failures propagate as errors; "nothing matched" outcomes are reported via
// the bool/count return values and are normal, expected results.
//
// Implementations must be safe for concurrent use and must keep message
// order total within a conversation (ordering across conversations is not
// required).
type ChatStore interface {
	// Append persists a message, assigning ID and SentAt if unset. It never
	// rejects based on content.
	Append(ctx context.Context, msg *Message) error

	// History returns messages ascending by SentAt using offset pagination.
	// page is clamped to >= 0, pageSize to >= 1.
	History(ctx context.Context, conversationID string, page, pageSize int) ([]*Message, error)

	// EditText replaces the text of a message and stamps EditedAt. SentAt is
	// untouched. Returns true iff a matching message existed.
	EditText(ctx context.Context, conversationID, messageID, newText string) (bool, error)

	// Delete hard-deletes a message. Destructive and irreversible.
	Delete(ctx context.Context, conversationID, messageID string) (bool, error)

	// MarkDelivered sets DeliveredAt on the given messages, but only those
	// addressed to recipientID that don't already have it. Returns how many
	// actually transitioned, so re-invocation is idempotent.
	MarkDelivered(ctx context.Context, conversationID, recipientID string, messageIDs []string) (int64, error)

	// MarkRead is MarkDelivered's counterpart for ReadAt.
	MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) (int64, error)

	// Search filters by inclusive time range and case-insensitive substring
	// match on text, ascending by SentAt. Empty query text means no text filter.
	Search(ctx context.Context, conversationID string, q SearchQuery) ([]*Message, error)

	// React adds userID to the reaction set for (messageID, emoji). Returns
	// true iff the message exists; re-reacting is a set no-op.
	React(ctx context.Context, conversationID, messageID, emoji, userID string) (bool, error)

	// Unreact removes userID from the reaction set. Returns true iff an entry
	// was actually removed.
	Unreact(ctx context.Context, conversationID, messageID, emoji, userID string) (bool, error)
}

// clampPage normalizes offset-pagination inputs shared by both store
// implementations.
func clampPage(page, pageSize int) (int, int) {
	if page < 0 {
		page = 0
	}
	if pageSize < 1 {
		pageSize = 1
	}
	return page, pageSize
}
