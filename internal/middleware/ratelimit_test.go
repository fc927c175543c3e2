package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestLimiterStoreAllowBurst(t *testing.T) {
	s := NewLimiterStore(60, 3, time.Minute)
	defer s.Stop()

	for i := 0; i < 3; i++ {
		if !s.Allow("client-1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if s.Allow("client-1") {
		t.Fatal("request beyond burst should be denied")
	}
}

func TestLimiterStoreKeysAreIndependent(t *testing.T) {
	s := NewLimiterStore(60, 1, time.Minute)
	defer s.Stop()

	if !s.Allow("client-a") {
		t.Fatal("first request for client-a should be allowed")
	}
	if s.Allow("client-a") {
		t.Fatal("second request for client-a should be denied")
	}
	if !s.Allow("client-b") {
		t.Fatal("client-b has its own limiter and should be allowed")
	}
}

func TestLimiterStoreDefaultsNonPositiveLimit(t *testing.T) {
	s := NewLimiterStore(0, 1, time.Minute)
	defer s.Stop()

	if !s.Allow("client") {
		t.Fatal("store with defaulted limit should still allow the burst")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s := NewLimiterStore(60, 2, time.Minute)
	defer s.Stop()

	app := fiber.New()
	app.Use(RateLimit(s))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 beyond the burst, got %d", resp.StatusCode)
	}
}
