package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/obverse/obverse/internal/logging"
)

func setupIdempotencyApp(t *testing.T) (*fiber.App, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	var calls int32
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/swaps", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	app.Post("/other", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return c.SendStatus(fiber.StatusAccepted)
	})
	app.Post("/fails", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return fiber.NewError(fiber.StatusBadGateway, "upstream")
	})
	app.Get("/swaps", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, key, body string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload), resp.Header.Get("Idempotent-Replayed")
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _ := setupIdempotencyApp(t)
	if status, _, _ := post(t, app, "/swaps", "", "{}"); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/swaps", nil))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected GET to bypass idempotency, got %d", resp.StatusCode)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	status, first, _ := post(t, app, "/swaps", "abc123", `{"token":"USDT","amount":"10"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}
	status, second, replayed := post(t, app, "/swaps", "abc123", `{"token":"USDT","amount":"10"}`)
	if status != fiber.StatusCreated || second != first || replayed != "true" {
		t.Fatalf("expected replay of %s, got %d %s (replayed=%q)", first, status, second, replayed)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected handler to run once, ran %d times", atomic.LoadInt32(calls))
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	post(t, app, "/swaps", "k1", `{"amount":"10"}`)
	if status, _, _ := post(t, app, "/swaps", "k1", `{"amount":"11"}`); status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
	if status, _, _ := post(t, app, "/other", "k1", `{"amount":"11"}`); status != fiber.StatusAccepted {
		t.Fatalf("expected key to be scoped per path, got %d", status)
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("expected two handler runs, got %d", atomic.LoadInt32(calls))
	}
}

func TestIdempotencyReleasesKeyOnHandlerError(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	for i := 0; i < 2; i++ {
		if status, _, _ := post(t, app, "/fails", "retry-me", "{}"); status != fiber.StatusBadGateway {
			t.Fatalf("expected %d got %d", fiber.StatusBadGateway, status)
		}
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("expected failed request to be retryable, got %d runs", atomic.LoadInt32(calls))
	}
}
