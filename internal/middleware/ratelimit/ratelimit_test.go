package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newTestApp(t *testing.T, requestsPerMinute int) (*fiber.App, *Limiter) {
	t.Helper()

	limiter := New(Config{RequestsPerMinute: requestsPerMinute})
	t.Cleanup(limiter.Stop)

	app := fiber.New()
	app.Use(limiter.Middleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	return app, limiter
}

func TestLimiterRejectsPastBudget(t *testing.T) {
	app, _ := newTestApp(t, 3)

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("over-budget request: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestLimiterKeysBySessionHeader(t *testing.T) {
	app, _ := newTestApp(t, 1)

	reqA := httptest.NewRequest("GET", "/", nil)
	reqA.Header.Set("X-Session-ID", "session-a")
	resp, err := app.Test(reqA)
	if err != nil {
		t.Fatalf("session-a first request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("session-a first request status = %d, want 200", resp.StatusCode)
	}

	// Same IP, different session: separate bucket.
	reqB := httptest.NewRequest("GET", "/", nil)
	reqB.Header.Set("X-Session-ID", "session-b")
	resp, err = app.Test(reqB)
	if err != nil {
		t.Fatalf("session-b first request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("session-b first request status = %d, want 200", resp.StatusCode)
	}

	reqA2 := httptest.NewRequest("GET", "/", nil)
	reqA2.Header.Set("X-Session-ID", "session-a")
	resp, err = app.Test(reqA2)
	if err != nil {
		t.Fatalf("session-a second request: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 for exhausted session", resp.StatusCode)
	}
}
