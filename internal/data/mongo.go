package data

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore is the persistent ChatStore implementation. It is required for
// correctness when more than one process instance runs behind a load
// balancer: presence stays instance-local, but history must be shared.
type MongoStore struct {
	// coll is the "messages" collection, set via NewMongoStore.
	coll *mongo.Collection
}

// NewMongoStore returns a MongoStore using the given collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

var _ ChatStore = (*MongoStore)(nil)

// Append inserts a message document. ID and SentAt are assigned server-side
// if absent. There is no per-conversation lock here: ordering relies on
// SentAt being assigned before insert, and History sorting on
// (sent_at, _id) keeps same-instant messages in a stable order.
func (s *MongoStore) Append(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	_, err := s.coll.InsertOne(ctx, msg)
	return err
}

// History returns one page of the conversation ascending by sent_at.
func (s *MongoStore) History(ctx context.Context, conversationID string, page, pageSize int) ([]*Message, error) {
	page, pageSize = clampPage(page, pageSize)

	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page) * int64(pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := s.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// EditText sets new text and stamps edited_at. MatchedCount (not
// ModifiedCount) decides existence so re-submitting identical text still
// reports true.
func (s *MongoStore) EditText(ctx context.Context, conversationID, messageID, newText string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "conversation_id": conversationID},
		bson.M{"$set": bson.M{"text": newText, "edited_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// Delete removes the document. Hard delete: there is no tombstone and no way
// back.
func (s *MongoStore) Delete(ctx context.Context, conversationID, messageID string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": messageID, "conversation_id": conversationID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) MarkDelivered(ctx context.Context, conversationID, recipientID string, messageIDs []string) (int64, error) {
	return s.stamp(ctx, conversationID, recipientID, messageIDs, "delivered_at")
}

func (s *MongoStore) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) (int64, error) {
	return s.stamp(ctx, conversationID, readerID, messageIDs, "read_at")
}

// stamp sets a receipt field on the requested messages. The filter restricts
// to messages addressed to the recipient whose field is still unset, which
// is what makes repeated receipt calls idempotent (ModifiedCount of the
// second call is 0).
func (s *MongoStore) stamp(ctx context.Context, conversationID, recipientID string, messageIDs []string, field string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := s.coll.UpdateMany(ctx,
		bson.M{
			"_id":             bson.M{"$in": messageIDs},
			"conversation_id": conversationID,
			"recipient_id":    recipientID,
			field:             bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{field: time.Now().UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// Search filters by inclusive sent_at range and case-insensitive substring
// match on text. Substring semantics rule out Mongo's $text (word-based)
// search, so the text filter is an anchored-nowhere quoted regex.
func (s *MongoStore) Search(ctx context.Context, conversationID string, q SearchQuery) ([]*Message, error) {
	page, pageSize := clampPage(q.Page, q.PageSize)

	filter := bson.M{"conversation_id": conversationID}
	if q.From != nil || q.To != nil {
		span := bson.M{}
		if q.From != nil {
			span["$gte"] = *q.From
		}
		if q.To != nil {
			span["$lte"] = *q.To
		}
		filter["sent_at"] = span
	}
	if q.Text != "" {
		filter["text"] = bson.M{"$regex": regexp.QuoteMeta(q.Text), "$options": "i"}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page) * int64(pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// React adds the user to the emoji's reaction set. $addToSet gives the set
// semantics for free; MatchedCount reports message existence.
func (s *MongoStore) React(ctx context.Context, conversationID, messageID, emoji, userID string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "conversation_id": conversationID},
		bson.M{"$addToSet": bson.M{"reactions." + emoji: userID}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// Unreact removes the user from the emoji's set and drops the now-empty set
// entry. Returns true only when a reaction was actually removed, so a second
// unreact is a no-op reporting false.
func (s *MongoStore) Unreact(ctx context.Context, conversationID, messageID, emoji, userID string) (bool, error) {
	key := "reactions." + emoji
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "conversation_id": conversationID},
		bson.M{"$pull": bson.M{key: userID}},
	)
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 0 {
		return false, nil
	}
	// Drop the emoji key entirely once its set is empty, keeping the
	// reactions map free of dead entries.
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "conversation_id": conversationID, key: bson.M{"$size": 0}},
		bson.M{"$unset": bson.M{key: ""}},
	)
	if err != nil {
		return false, err
	}
	return true, nil
}
