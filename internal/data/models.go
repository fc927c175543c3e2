package data

import "time"

// Message maps to the messages collection. A message belongs to exactly one
// canonical conversation; sender/recipient always match the participant pair
// encoded in ConversationID.
type Message struct {
	// ID is server-generated (UUID) and immutable after Append.
	ID             string `bson:"_id,omitempty" json:"id"`
	ConversationID string `bson:"conversation_id" json:"conversationId"`
	SenderID       string `bson:"sender_id" json:"senderId"`
	RecipientID    string `bson:"recipient_id" json:"recipientId"`

	// Text is the only mutable content field; edits overwrite it in place
	// and bump EditedAt, they never create a new message.
	Text string `bson:"text" json:"text"`

	// SentAt is server-assigned and non-decreasing within a conversation.
	SentAt   time.Time  `bson:"sent_at" json:"sentAt"`
	EditedAt *time.Time `bson:"edited_at,omitempty" json:"editedAt,omitempty"`

	// DeliveredAt is best-effort: set when at least one live connection of
	// the recipient existed at send time, or later via a delivered receipt.
	DeliveredAt *time.Time `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	// ReadAt is set at most once, only for the recipient.
	ReadAt *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"`

	// ClientMessageID is an optional client correlation token echoed back for
	// optimistic-UI reconciliation. The store does not deduplicate on it.
	ClientMessageID string `bson:"client_message_id,omitempty" json:"clientMessageId,omitempty"`

	// Reactions maps an emoji symbol to the set of user ids that reacted.
	Reactions map[string][]string `bson:"reactions,omitempty" json:"reactions,omitempty"`
}

// Clone returns a deep copy. Stores hand out clones so callers can't mutate
// persisted state behind the store's back, and fan-out can read fields while
// a concurrent edit runs.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.DeliveredAt = cloneTime(m.DeliveredAt)
	out.ReadAt = cloneTime(m.ReadAt)
	out.EditedAt = cloneTime(m.EditedAt)
	if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			out.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SearchQuery filters messages within one conversation. Zero-value fields
// mean "no filter"; the time bounds are inclusive.
type SearchQuery struct {
	Text     string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
