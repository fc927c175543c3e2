// Package ws binds the chat session core to WebSocket connections. The
// adapter only translates wire frames to and from envelopes; every
// operation's semantics live in the chat package.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/giftwish/chat-server/internal/chat"
	"github.com/giftwish/chat-server/internal/middleware"
)

// wsConn adapts a websocket connection to hub.Sender. Writes are serialized
// with a mutex because fan-out goroutines and the session's own replies may
// send concurrently.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) Send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteJSON(v)
}

// Register mounts the /ws endpoint on the fiber app.
func Register(app *fiber.App, core *chat.Core, limiter *middleware.LimiterStore, log *zap.SugaredLogger) {
	app.Use("/ws", middleware.RateLimit(limiter), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"success": false,
			"error":   "websocket upgrade required",
		})
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		serve(core, conn, log)
	}))
}

// serve runs one connection's receive loop until the peer goes away.
func serve(core *chat.Core, conn *websocket.Conn, log *zap.SugaredLogger) {
	wc := &wsConn{c: conn}
	sess := core.NewSession(wc)
	defer sess.Close()

	ctx := context.Background()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debugw("ws connection closed", "user", sess.UserID(), "err", err)
			return
		}
		var env chat.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed JSON rejects the frame, not the connection.
			_ = wc.Send(chat.NewEnvelope(chat.EventError, chat.ErrorPayload{
				Code:    chat.CodeInvalidArgument,
				Message: "invalid json",
			}))
			continue
		}
		sess.Handle(ctx, env)
	}
}
