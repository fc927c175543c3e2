// Package httpapi exposes the read-only REST surface for clients that
// prefer request/response over the live channel.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/giftwish/chat-server/internal/conversation"
	"github.com/giftwish/chat-server/internal/data"
	"github.com/giftwish/chat-server/internal/hub"
)

// Register mounts the chat read endpoints on the fiber app.
func Register(app *fiber.App, store data.ChatStore, reg *hub.Registry, log *zap.SugaredLogger) {
	api := app.Group("/api/v1/chat")
	api.Get("/history", historyHandler(store, log))
	api.Get("/search", searchHandler(store, log))
	api.Get("/presence", presenceHandler(reg))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func historyHandler(store data.ChatStore, log *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conv, err := conversation.Direct(c.Query("userA"), c.Query("userB"))
		if err != nil {
			return badRequest(c, err.Error())
		}
		msgs, err := store.History(c.Context(), conv.String(), c.QueryInt("page", 0), c.QueryInt("pageSize", 50))
		if err != nil {
			log.Errorw("history fetch failed", "conversation", conv.String(), "err", err)
			return storageError(c)
		}
		return c.JSON(fiber.Map{"success": true, "data": msgs})
	}
}

func searchHandler(store data.ChatStore, log *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conv, err := conversation.Direct(c.Query("userA"), c.Query("userB"))
		if err != nil {
			return badRequest(c, err.Error())
		}

		q := data.SearchQuery{
			Text:     c.Query("q"),
			Page:     c.QueryInt("page", 0),
			PageSize: c.QueryInt("pageSize", 50),
		}
		if v := c.Query("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return badRequest(c, "from must be RFC3339")
			}
			q.From = &t
		}
		if v := c.Query("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return badRequest(c, "to must be RFC3339")
			}
			q.To = &t
		}

		msgs, err := store.Search(c.Context(), conv.String(), q)
		if err != nil {
			log.Errorw("search failed", "conversation", conv.String(), "err", err)
			return storageError(c)
		}
		return c.JSON(fiber.Map{"success": true, "data": msgs})
	}
}

func presenceHandler(reg *hub.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "data": reg.ActiveUserIDs()})
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": msg})
}

func storageError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "storage unavailable"})
}
