package chat

import (
	"time"

	"github.com/giftwish/chat-server/internal/data"
)

// Inbound payloads.

type RegisterPayload struct {
	UserID string `json:"userId"`
	// Token is required when the server runs with token verification enabled;
	// its subject must match UserID.
	Token string `json:"token,omitempty"`
}

type JoinDirectPayload struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
}

type SendDirectPayload struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	OtherID  string `json:"otherId"`
	IsTyping bool   `json:"isTyping"`
}

// ReceiptsPayload drives both delivered and read receipt operations.
type ReceiptsPayload struct {
	UserID     string   `json:"userId"`
	OtherID    string   `json:"otherId"`
	MessageIDs []string `json:"messageIds"`
}

type HistoryPayload struct {
	UserA    string `json:"userA"`
	UserB    string `json:"userB"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

type SearchPayload struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
	Query string `json:"q,omitempty"`
	// From/To are RFC3339 timestamps; empty means unbounded.
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

type EditPayload struct {
	UserA     string `json:"userA"`
	UserB     string `json:"userB"`
	MessageID string `json:"messageId"`
	NewText   string `json:"newText"`
}

type DeletePayload struct {
	UserA     string `json:"userA"`
	UserB     string `json:"userB"`
	MessageID string `json:"messageId"`
}

type ReactionPayload struct {
	UserA     string `json:"userA"`
	UserB     string `json:"userB"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

// Outbound payloads. messageReceived carries *data.Message directly.

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RegisteredPayload struct {
	UserID      string   `json:"userId"`
	ActiveUsers []string `json:"activeUsers"`
}

type JoinedPayload struct {
	ConversationID string `json:"conversationId"`
}

type PresenceChangedPayload struct {
	UserID      string   `json:"userId"`
	Online      bool     `json:"online"`
	ActiveUsers []string `json:"activeUsers"`
}

type TypingEventPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ReceiptsEventPayload fans receipt acknowledgements out to both
// participants. Count is how many messages actually transitioned.
type ReceiptsEventPayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	MessageIDs     []string  `json:"messageIds"`
	Count          int64     `json:"count"`
	At             time.Time `json:"at"`
}

type HistoryResultPayload struct {
	ConversationID string          `json:"conversationId"`
	Page           int             `json:"page"`
	PageSize       int             `json:"pageSize"`
	Messages       []*data.Message `json:"messages"`
}

type MessageEditedPayload struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Text           string    `json:"text"`
	EditedAt       time.Time `json:"editedAt"`
}

type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type ReactionUpdatedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
	UserID         string `json:"userId"`
	Reacted        bool   `json:"reacted"`
}
