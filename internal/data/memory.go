package data

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the process-lifetime ChatStore implementation. It backs
// single-process deployments and tests; contents are rebuilt from zero on
// restart.
type MemoryStore struct {
	mu sync.RWMutex
	// byConv holds each conversation's messages in append order, which is
	// also SentAt order because Append enforces monotonic timestamps.
	byConv map[string][]*Message
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byConv: make(map[string][]*Message)}
}

var _ ChatStore = (*MemoryStore)(nil)

// Append stores a clone of msg and fills ID/SentAt back into the caller's
// struct. SentAt is bumped to the conversation's last timestamp if the clock
// went backwards, keeping per-conversation order non-decreasing.
func (s *MemoryStore) Append(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	msgs := s.byConv[msg.ConversationID]
	if n := len(msgs); n > 0 && msg.SentAt.Before(msgs[n-1].SentAt) {
		msg.SentAt = msgs[n-1].SentAt
	}
	s.byConv[msg.ConversationID] = append(msgs, msg.Clone())
	return nil
}

// History returns one page of the conversation, oldest first.
func (s *MemoryStore) History(_ context.Context, conversationID string, page, pageSize int) ([]*Message, error) {
	page, pageSize = clampPage(page, pageSize)

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byConv[conversationID]
	start := page * pageSize
	if start >= len(msgs) {
		return []*Message{}, nil
	}
	end := start + pageSize
	if end > len(msgs) {
		end = len(msgs)
	}
	out := make([]*Message, 0, end-start)
	for _, m := range msgs[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStore) EditText(_ context.Context, conversationID, messageID, newText string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.find(conversationID, messageID); m != nil {
		now := time.Now().UTC()
		m.Text = newText
		m.EditedAt = &now
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.byConv[conversationID]
	for i, m := range msgs {
		if m.ID == messageID {
			s.byConv[conversationID] = append(msgs[:i], msgs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, conversationID, recipientID string, messageIDs []string) (int64, error) {
	return s.stamp(conversationID, recipientID, messageIDs, func(m *Message) **time.Time { return &m.DeliveredAt })
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, readerID string, messageIDs []string) (int64, error) {
	return s.stamp(conversationID, readerID, messageIDs, func(m *Message) **time.Time { return &m.ReadAt })
}

// stamp sets a receipt timestamp on messages addressed to recipient whose
// slot is still empty, returning the number that transitioned.
func (s *MemoryStore) stamp(conversationID, recipientID string, messageIDs []string, slot func(*Message) **time.Time) (int64, error) {
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var n int64
	for _, m := range s.byConv[conversationID] {
		if !wanted[m.ID] || m.RecipientID != recipientID {
			continue
		}
		if p := slot(m); *p == nil {
			t := now
			*p = &t
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Search(_ context.Context, conversationID string, q SearchQuery) ([]*Message, error) {
	page, pageSize := clampPage(q.Page, q.PageSize)
	needle := strings.ToLower(q.Text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Message
	for _, m := range s.byConv[conversationID] {
		if q.From != nil && m.SentAt.Before(*q.From) {
			continue
		}
		if q.To != nil && m.SentAt.After(*q.To) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(m.Text), needle) {
			continue
		}
		matched = append(matched, m)
	}

	start := page * pageSize
	if start >= len(matched) {
		return []*Message{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*Message, 0, end-start)
	for _, m := range matched[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStore) React(_ context.Context, conversationID, messageID, emoji, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(conversationID, messageID)
	if m == nil {
		return false, nil
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	for _, u := range m.Reactions[emoji] {
		if u == userID {
			return true, nil // set semantics: already present
		}
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
	return true, nil
}

func (s *MemoryStore) Unreact(_ context.Context, conversationID, messageID, emoji, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(conversationID, messageID)
	if m == nil {
		return false, nil
	}
	users := m.Reactions[emoji]
	for i, u := range users {
		if u == userID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = users
			}
			return true, nil
		}
	}
	return false, nil
}

// find returns the live (not cloned) message; callers must hold s.mu.
func (s *MemoryStore) find(conversationID, messageID string) *Message {
	for _, m := range s.byConv[conversationID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}
