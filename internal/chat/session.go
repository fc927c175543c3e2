// Package chat is the transport-agnostic core of the direct-messaging
// subsystem: one Session per live connection decodes inbound envelopes,
// drives the store, registry and dispatcher, and encodes outbound envelopes.
// The WebSocket and raw TCP adapters are thin syntactic bindings over this
// one operation set.
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/giftwish/chat-server/internal/auth"
	"github.com/giftwish/chat-server/internal/cache"
	"github.com/giftwish/chat-server/internal/conversation"
	"github.com/giftwish/chat-server/internal/data"
	"github.com/giftwish/chat-server/internal/events"
	"github.com/giftwish/chat-server/internal/hub"
)

// Core holds the shared collaborators every session operates on. It is built
// once by the composition root and handed to both transports.
type Core struct {
	Store    data.ChatStore
	Registry *hub.Registry
	Dispatch *hub.Dispatcher

	// Auth nil means token checks are disabled (development mode).
	Auth *auth.JWTManager
	// Mirror and Events are optional; nil values are valid and inert.
	Mirror *cache.PresenceMirror
	Events *events.Publisher

	Log *zap.SugaredLogger
}

// Session is the per-connection protocol handler. Its receive loop is
// single-goroutine (the transport calls Handle sequentially), so session
// state needs no locking; only Close may race with the loop and is guarded
// by a sync.Once.
//
// State machine: unregistered → registered → closed. Every operation except
// register is rejected with an explicit unauthenticated error until register
// succeeds — never silently dropped.
type Session struct {
	core *Core
	conn hub.Sender

	userID     string
	connID     int64
	registered bool
	closeOnce  sync.Once
}

// BindDispatcher installs the dispatcher's eviction hook. When fan-out culls
// a dead connection, the owning session's later Close finds it already
// unregistered and stays silent, so the offline broadcast and mirror update
// for that edge have to come from here. Call once after assembling the Core.
func (c *Core) BindDispatcher() {
	c.Dispatch.OnEvict(func(userID string, connID int64, offline bool) {
		c.Mirror.ConnectionClosed(context.Background(), userID, connID, offline)
		if offline {
			c.Dispatch.Broadcast(NewEnvelope(EventPresenceChanged, PresenceChangedPayload{
				UserID:      userID,
				Online:      false,
				ActiveUsers: c.Registry.ActiveUserIDs(),
			}))
		}
	})
}

// NewSession creates the handler for one live connection.
func (c *Core) NewSession(conn hub.Sender) *Session {
	return &Session{core: c, conn: conn}
}

// UserID returns the registered user id, empty before register.
func (s *Session) UserID() string { return s.userID }

// Handle processes one inbound envelope. All outcomes, including errors,
// are communicated back through envelopes; Handle never closes the
// connection itself.
func (s *Session) Handle(ctx context.Context, env Envelope) {
	if env.Type == OpRegister {
		s.handleRegister(ctx, env.Payload)
		return
	}
	if !s.registered {
		s.sendError(CodeUnauthenticated, "register before any other operation")
		return
	}

	switch env.Type {
	case OpJoinDirect:
		s.handleJoinDirect(env.Payload)
	case OpSendDirect:
		s.handleSendDirect(ctx, env.Payload)
	case OpTyping:
		s.handleTyping(env.Payload)
	case OpDelivered:
		s.handleReceipts(ctx, env.Payload, true)
	case OpRead:
		s.handleReceipts(ctx, env.Payload, false)
	case OpHistory:
		s.handleHistory(ctx, env.Payload)
	case OpSearch:
		s.handleSearch(ctx, env.Payload)
	case OpEdit:
		s.handleEdit(ctx, env.Payload)
	case OpDelete:
		s.handleDelete(ctx, env.Payload)
	case OpReact:
		s.handleReaction(ctx, env.Payload, true)
	case OpUnreact:
		s.handleReaction(ctx, env.Payload, false)
	default:
		s.sendError(CodeInvalidArgument, "unknown operation: "+env.Type)
	}
}

// Close runs the idempotent teardown: unregister exactly once, and fire the
// offline presence broadcast if this was the user's last connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if !s.registered {
			return
		}
		offline := s.core.Registry.Unregister(s.userID, s.connID)
		s.core.Mirror.ConnectionClosed(context.Background(), s.userID, s.connID, offline)
		if offline {
			s.core.Dispatch.Broadcast(NewEnvelope(EventPresenceChanged, PresenceChangedPayload{
				UserID:      s.userID,
				Online:      false,
				ActiveUsers: s.core.Registry.ActiveUserIDs(),
			}))
		}
	})
}

func (s *Session) handleRegister(ctx context.Context, raw json.RawMessage) {
	var p RegisterPayload
	if !s.decode(raw, &p) {
		return
	}
	userID := conversation.NormalizeUserID(p.UserID)
	if userID == "" {
		s.sendError(CodeInvalidArgument, "userId is required")
		return
	}
	if s.registered {
		s.sendError(CodeInvalidArgument, "connection already registered")
		return
	}
	if s.core.Auth != nil {
		claims, err := s.core.Auth.VerifyToken(p.Token)
		if err != nil {
			s.sendError(CodeUnauthenticated, "token verification failed")
			return
		}
		if conversation.NormalizeUserID(claims.UserID) != userID {
			s.sendError(CodeUnauthenticated, "token subject does not match userId")
			return
		}
	}

	connID, online := s.core.Registry.Register(userID, s.conn)
	s.userID = userID
	s.connID = connID
	s.registered = true
	s.core.Mirror.ConnectionOpened(ctx, userID, connID)

	s.send(NewEnvelope(EventRegistered, RegisteredPayload{
		UserID:      userID,
		ActiveUsers: s.core.Registry.ActiveUserIDs(),
	}))
	if online {
		s.core.Dispatch.Broadcast(NewEnvelope(EventPresenceChanged, PresenceChangedPayload{
			UserID:      userID,
			Online:      true,
			ActiveUsers: s.core.Registry.ActiveUserIDs(),
		}))
	}
}

// handleJoinDirect validates the pair and acknowledges. Group-style room
// membership doesn't apply to the in-memory conversation model, so join
// carries no state.
func (s *Session) handleJoinDirect(raw json.RawMessage) {
	var p JoinDirectPayload
	if !s.decode(raw, &p) {
		return
	}
	conv, err := conversation.Direct(p.UserA, p.UserB)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}
	s.send(NewEnvelope(EventJoined, JoinedPayload{ConversationID: conv.String()}))
}

func (s *Session) handleSendDirect(ctx context.Context, raw json.RawMessage) {
	var p SendDirectPayload
	if !s.decode(raw, &p) {
		return
	}
	from := conversation.NormalizeUserID(p.From)
	to := conversation.NormalizeUserID(p.To)
	if from != s.userID {
		s.sendError(CodeInvalidArgument, "from must match the registered user")
		return
	}
	conv, err := conversation.Direct(from, to)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}

	msg := &data.Message{
		ConversationID:  conv.String(),
		SenderID:        from,
		RecipientID:     to,
		Text:            p.Text,
		ClientMessageID: p.ClientMessageID,
	}
	// Delivered is best-effort: stamp it now if the recipient has at least
	// one live connection at send time.
	if s.core.Registry.Online(to) {
		now := time.Now().UTC()
		msg.DeliveredAt = &now
	}

	if err := s.core.Store.Append(ctx, msg); err != nil {
		s.core.Log.Errorw("append message failed", "conversation", conv.String(), "err", err)
		s.sendError(CodeStorage, "failed to persist message")
		return
	}
	s.core.Events.MessagePersisted(ctx, msg)
	s.core.Dispatch.ToConversation(conv, NewEnvelope(EventMessageReceived, msg))
}

// handleTyping relays a typing indicator. Never persisted.
func (s *Session) handleTyping(raw json.RawMessage) {
	var p TypingPayload
	if !s.decode(raw, &p) {
		return
	}
	userID := conversation.NormalizeUserID(p.UserID)
	if userID != s.userID {
		s.sendError(CodeInvalidArgument, "userId must match the registered user")
		return
	}
	conv, err := conversation.Direct(userID, p.OtherID)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}
	s.core.Dispatch.ToConversation(conv, NewEnvelope(EventTyping, TypingEventPayload{
		ConversationID: conv.String(),
		UserID:         userID,
		IsTyping:       p.IsTyping,
	}))
}

// handleReceipts covers delivered (delivered=true) and read receipts; the
// store restricts stamping to messages addressed to the caller, so a user
// can never mark their own outgoing messages.
func (s *Session) handleReceipts(ctx context.Context, raw json.RawMessage, delivered bool) {
	var p ReceiptsPayload
	if !s.decode(raw, &p) {
		return
	}
	userID := conversation.NormalizeUserID(p.UserID)
	if userID != s.userID {
		s.sendError(CodeInvalidArgument, "userId must match the registered user")
		return
	}
	conv, err := conversation.Direct(userID, p.OtherID)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}

	var (
		count int64
		event string
	)
	if delivered {
		count, err = s.core.Store.MarkDelivered(ctx, conv.String(), userID, p.MessageIDs)
		event = EventDeliveredReceipts
	} else {
		count, err = s.core.Store.MarkRead(ctx, conv.String(), userID, p.MessageIDs)
		event = EventReadReceipts
	}
	if err != nil {
		s.core.Log.Errorw("receipt update failed", "conversation", conv.String(), "err", err)
		s.sendError(CodeStorage, "failed to update receipts")
		return
	}

	s.core.Dispatch.ToConversation(conv, NewEnvelope(event, ReceiptsEventPayload{
		ConversationID: conv.String(),
		UserID:         userID,
		MessageIDs:     p.MessageIDs,
		Count:          count,
		At:             time.Now().UTC(),
	}))
}

// handleHistory replies only to the requesting connection.
func (s *Session) handleHistory(ctx context.Context, raw json.RawMessage) {
	var p HistoryPayload
	if !s.decode(raw, &p) {
		return
	}
	conv, err := conversation.Direct(p.UserA, p.UserB)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}
	if !conv.Has(s.userID) {
		s.sendError(CodeInvalidArgument, "history is limited to conversation participants")
		return
	}
	msgs, err := s.core.Store.History(ctx, conv.String(), p.Page, p.PageSize)
	if err != nil {
		s.core.Log.Errorw("history fetch failed", "conversation", conv.String(), "err", err)
		s.sendError(CodeStorage, "failed to load history")
		return
	}
	s.send(NewEnvelope(EventHistoryResult, HistoryResultPayload{
		ConversationID: conv.String(),
		Page:           p.Page,
		PageSize:       p.PageSize,
		Messages:       msgs,
	}))
}

// handleSearch is history with filters; the result also goes only to the
// requesting connection.
func (s *Session) handleSearch(ctx context.Context, raw json.RawMessage) {
	var p SearchPayload
	if !s.decode(raw, &p) {
		return
	}
	conv, err := conversation.Direct(p.UserA, p.UserB)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}
	if !conv.Has(s.userID) {
		s.sendError(CodeInvalidArgument, "search is limited to conversation participants")
		return
	}

	q := data.SearchQuery{Text: p.Query, Page: p.Page, PageSize: p.PageSize}
	if p.From != "" {
		t, err := time.Parse(time.RFC3339, p.From)
		if err != nil {
			s.sendError(CodeInvalidArgument, "from must be RFC3339")
			return
		}
		q.From = &t
	}
	if p.To != "" {
		t, err := time.Parse(time.RFC3339, p.To)
		if err != nil {
			s.sendError(CodeInvalidArgument, "to must be RFC3339")
			return
		}
		q.To = &t
	}

	msgs, err := s.core.Store.Search(ctx, conv.String(), q)
	if err != nil {
		s.core.Log.Errorw("search failed", "conversation", conv.String(), "err", err)
		s.sendError(CodeStorage, "failed to search history")
		return
	}
	s.send(NewEnvelope(EventHistoryResult, HistoryResultPayload{
		ConversationID: conv.String(),
		Page:           p.Page,
		PageSize:       p.PageSize,
		Messages:       msgs,
	}))
}

func (s *Session) handleEdit(ctx context.Context, raw json.RawMessage) {
	var p EditPayload
	if !s.decode(raw, &p) {
		return
	}
	conv, err := conversation.Direct(p.UserA, p.UserB)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}
	if !conv.Has(s.userID) {
		s.sendError(CodeInvalidArgument, "edit is limited to conversation participants")
		return
	}
	ok, err := s.core.Store.EditText(ctx, conv.String(), p.MessageID, p.NewText)
	if err != nil {
		s.core.Log.Errorw("edit failed", "conversation", conv.String(), "message", p.MessageID, "err", err)
		s.sendError(CodeStorage, "failed to edit message")
		return
	}
	// Editing an unknown message is a normal outcome, not an error; no event
	// is emitted.
	if ok {
		s.core.Dispatch.ToConversation(conv, NewEnvelope(EventMessageEdited, MessageEditedPayload{
			ConversationID: conv.String(),
			MessageID:      p.MessageID,
			Text:           p.NewText,
			EditedAt:       time.Now().UTC(),
		}))
	}
}

func (s *Session) handleDelete(ctx context.Context, raw json.RawMessage) {
	var p DeletePayload
	if !s.decode(raw, &p) {
		return
	}
	conv, err := conversation.Direct(p.UserA, p.UserB)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}
	if !conv.Has(s.userID) {
		s.sendError(CodeInvalidArgument, "delete is limited to conversation participants")
		return
	}
	ok, err := s.core.Store.Delete(ctx, conv.String(), p.MessageID)
	if err != nil {
		s.core.Log.Errorw("delete failed", "conversation", conv.String(), "message", p.MessageID, "err", err)
		s.sendError(CodeStorage, "failed to delete message")
		return
	}
	if ok {
		s.core.Dispatch.ToConversation(conv, NewEnvelope(EventMessageDeleted, MessageDeletedPayload{
			ConversationID: conv.String(),
			MessageID:      p.MessageID,
		}))
	}
}

func (s *Session) handleReaction(ctx context.Context, raw json.RawMessage, add bool) {
	var p ReactionPayload
	if !s.decode(raw, &p) {
		return
	}
	userID := conversation.NormalizeUserID(p.UserID)
	if userID != s.userID {
		s.sendError(CodeInvalidArgument, "userId must match the registered user")
		return
	}
	if p.Emoji == "" {
		s.sendError(CodeInvalidArgument, "emoji is required")
		return
	}
	conv, err := conversation.Direct(p.UserA, p.UserB)
	if err != nil {
		s.sendError(CodeInvalidArgument, err.Error())
		return
	}
	if !conv.Has(userID) {
		s.sendError(CodeInvalidArgument, "reactions are limited to conversation participants")
		return
	}

	var ok bool
	if add {
		ok, err = s.core.Store.React(ctx, conv.String(), p.MessageID, p.Emoji, userID)
	} else {
		ok, err = s.core.Store.Unreact(ctx, conv.String(), p.MessageID, p.Emoji, userID)
	}
	if err != nil {
		s.core.Log.Errorw("reaction update failed", "conversation", conv.String(), "message", p.MessageID, "err", err)
		s.sendError(CodeStorage, "failed to update reaction")
		return
	}
	if ok {
		s.core.Dispatch.ToConversation(conv, NewEnvelope(EventMessageReactionUpdated, ReactionUpdatedPayload{
			ConversationID: conv.String(),
			MessageID:      p.MessageID,
			Emoji:          p.Emoji,
			UserID:         userID,
			Reacted:        add,
		}))
	}
}

// decode unmarshals an operation payload, answering a validation error
// envelope on failure.
func (s *Session) decode(raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		s.sendError(CodeInvalidArgument, "malformed payload")
		return false
	}
	return true
}

func (s *Session) sendError(code, message string) {
	s.send(NewEnvelope(EventError, ErrorPayload{Code: code, Message: message}))
}

// send pushes one envelope to this session's own connection. A dead
// connection here is handled by the transport's read loop terminating.
func (s *Session) send(env Envelope) {
	if err := s.conn.Send(env); err != nil {
		s.core.Log.Debugw("send to session failed", "user", s.userID, "err", err)
	}
}
