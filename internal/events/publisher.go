// Package events publishes chat domain events to Kafka for the rest of the
// platform (activity feeds, analytics). Publishing is best-effort and never
// blocks a chat operation's outcome.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/giftwish/chat-server/internal/data"
)

// MessagePersistedEvent is emitted after a direct message is durably stored.
type MessagePersistedEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	SentAt         time.Time `json:"sent_at"`
}

// Publisher writes chat events to a Kafka topic. A nil *Publisher is valid
// and publishes nothing.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewPublisher builds a publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Publisher{writer: w, log: log}
}

// MessagePersisted publishes the event keyed by conversation id, so events
// of one conversation stay ordered within a partition. Failures are logged
// and swallowed: the message is already durable, the event stream is not the
// source of truth.
func (p *Publisher) MessagePersisted(ctx context.Context, msg *data.Message) {
	if p == nil {
		return
	}
	value, err := json.Marshal(MessagePersistedEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		SentAt:         msg.SentAt,
	})
	if err != nil {
		p.log.Errorw("marshal message event", "err", err)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ConversationID),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		p.log.Warnw("publish message event failed", "message", msg.ID, "err", err)
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
