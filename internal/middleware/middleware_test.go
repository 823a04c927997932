package middleware

import (
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func TestAPIKeyAuth(t *testing.T) {
	app := fiber.New()
	app.Use(APIKeyAuth("s3cret"))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(PrincipalFrom(c)) })

	cases := map[string]int{
		"":              fiber.StatusUnauthorized,
		"Bearer wrong":  fiber.StatusUnauthorized,
		"Basic s3cret":  fiber.StatusUnauthorized,
		"Bearer s3cret": fiber.StatusOK,
		"bearer s3cret": fiber.StatusOK,
	}
	for header, want := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%q: expected %d got %d", header, want, resp.StatusCode)
		}
	}
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-id-1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "client-id-1" {
		t.Fatalf("expected client id to be echoed, got %q", got)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "has space")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got == "" || got == "has space" {
		t.Fatalf("expected invalid id to be replaced, got %q", got)
	}
}

func TestSwapRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	app := fiber.New()
	app.Post("/wallets/:walletId/swaps", SwapRateLimit(cache, 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/wallets/w1/swaps", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		statuses = append(statuses, resp.StatusCode)
	}
	if statuses[0] != fiber.StatusCreated || statuses[1] != fiber.StatusCreated || statuses[2] != fiber.StatusTooManyRequests {
		t.Fatalf("unexpected statuses %v", statuses)
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/wallets/w2/swaps", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected other wallet to have its own budget, got %d", resp.StatusCode)
	}
}
