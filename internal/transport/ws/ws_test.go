package ws

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/giftwish/chat-server/internal/chat"
	"github.com/giftwish/chat-server/internal/data"
	"github.com/giftwish/chat-server/internal/hub"
	"github.com/giftwish/chat-server/internal/middleware"
)

// Full duplex exchange is exercised through the session core and the TCP
// adapter; here the guard behavior of the HTTP mount is what's under test.

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	reg := hub.NewRegistry()
	log := zap.NewNop().Sugar()
	core := &chat.Core{
		Store:    data.NewMemoryStore(),
		Registry: reg,
		Dispatch: hub.NewDispatcher(reg, log),
		Log:      log,
	}
	core.BindDispatcher()
	limiter := middleware.NewLimiterStore(60, 5, time.Minute)
	t.Cleanup(limiter.Stop)
	app := fiber.New()
	Register(app, core, limiter, log)
	return app
}

func TestPlainRequestGetsUpgradeRequired(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426 for a non-upgrade request, got %d", resp.StatusCode)
	}
}

func TestRateLimitAppliesBeforeUpgrade(t *testing.T) {
	reg := hub.NewRegistry()
	log := zap.NewNop().Sugar()
	core := &chat.Core{
		Store:    data.NewMemoryStore(),
		Registry: reg,
		Dispatch: hub.NewDispatcher(reg, log),
		Log:      log,
	}
	core.BindDispatcher()
	limiter := middleware.NewLimiterStore(60, 1, time.Minute)
	defer limiter.Stop()
	app := fiber.New()
	Register(app, core, limiter, log)

	first, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if first.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426 within the burst, got %d", first.StatusCode)
	}

	second, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if second.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 beyond the burst, got %d", second.StatusCode)
	}
}
