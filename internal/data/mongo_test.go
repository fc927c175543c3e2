package data

import (
	"context"
	"os"
	"testing"

	"github.com/giftwish/chat-server/internal/db"
)

// integration tests; require MONGODB_URI set externally
func mongoStore(t *testing.T) (*MongoStore, func()) {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "chat_test_db")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}

	// ensure clean collection
	_ = c.MessagesCollection().Drop(ctx)
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	return NewMongoStore(c.MessagesCollection()), func() {
		_ = c.MessagesCollection().Drop(context.Background())
		_ = c.Close(context.Background())
	}
}

func TestMongoAppendAndHistory(t *testing.T) {
	s, cleanup := mongoStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, text := range []string{"hi bob", "hello alice", "how are you"} {
		msg := &Message{ConversationID: conv, SenderID: "alice", RecipientID: "bob", Text: text}
		if err := s.Append(ctx, msg); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	history, err := s.History(ctx, conv, 0, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].SentAt.Before(history[i-1].SentAt) {
			t.Fatalf("history out of order at %d", i)
		}
	}

	page, err := s.History(ctx, conv, 1, 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page) != 1 || page[0].Text != "how are you" {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestMongoEditDeleteReceipts(t *testing.T) {
	s, cleanup := mongoStore(t)
	defer cleanup()
	ctx := context.Background()

	msg := &Message{ConversationID: conv, SenderID: "alice", RecipientID: "bob", Text: "hello"}
	if err := s.Append(ctx, msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	ok, err := s.EditText(ctx, conv, msg.ID, "hello world")
	if err != nil || !ok {
		t.Fatalf("EditText = %v, %v; want true, nil", ok, err)
	}
	history, _ := s.History(ctx, conv, 0, 10)
	if history[0].Text != "hello world" || history[0].EditedAt == nil {
		t.Fatalf("edit not applied correctly: %+v", history[0])
	}
	if history[0].ID != msg.ID {
		t.Fatalf("edit must not change the message id")
	}

	n, err := s.MarkRead(ctx, conv, "bob", []string{msg.ID})
	if err != nil || n != 1 {
		t.Fatalf("MarkRead = %d, %v; want 1, nil", n, err)
	}
	if n, _ = s.MarkRead(ctx, conv, "bob", []string{msg.ID}); n != 0 {
		t.Fatalf("second MarkRead must transition 0, got %d", n)
	}
	// sender cannot mark their own message
	if n, _ = s.MarkRead(ctx, conv, "alice", []string{msg.ID}); n != 0 {
		t.Fatalf("MarkRead for the sender must transition 0, got %d", n)
	}

	ok, err = s.Delete(ctx, conv, msg.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v; want true, nil", ok, err)
	}
	if ok, _ = s.Delete(ctx, conv, msg.ID); ok {
		t.Fatalf("second delete must return false")
	}
}

func TestMongoSearch(t *testing.T) {
	s, cleanup := mongoStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, text := range []string{"Birthday plans", "cake?", "birthday cake it is"} {
		msg := &Message{ConversationID: conv, SenderID: "alice", RecipientID: "bob", Text: text}
		if err := s.Append(ctx, msg); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	found, err := s.Search(ctx, conv, SearchQuery{Text: "birthday", PageSize: 10})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 case-insensitive matches, got %d", len(found))
	}

	// regex metacharacters in the query are literal
	none, err := s.Search(ctx, conv, SearchQuery{Text: ".*", PageSize: 10})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("query text must be matched literally, got %d hits", len(none))
	}
}

func TestMongoReactions(t *testing.T) {
	s, cleanup := mongoStore(t)
	defer cleanup()
	ctx := context.Background()

	msg := &Message{ConversationID: conv, SenderID: "alice", RecipientID: "bob", Text: "gift idea"}
	if err := s.Append(ctx, msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	ok, err := s.React(ctx, conv, msg.ID, "🎁", "bob")
	if err != nil || !ok {
		t.Fatalf("React = %v, %v; want true, nil", ok, err)
	}
	history, _ := s.History(ctx, conv, 0, 10)
	if users := history[0].Reactions["🎁"]; len(users) != 1 || users[0] != "bob" {
		t.Fatalf("unexpected reaction set: %v", history[0].Reactions)
	}

	ok, err = s.Unreact(ctx, conv, msg.ID, "🎁", "bob")
	if err != nil || !ok {
		t.Fatalf("Unreact = %v, %v; want true, nil", ok, err)
	}
	if ok, _ = s.Unreact(ctx, conv, msg.ID, "🎁", "bob"); ok {
		t.Fatalf("second Unreact must return false")
	}
}
