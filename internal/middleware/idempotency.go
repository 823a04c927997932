package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v2:"
	idempotencyTimeout   = 2 * time.Second
)

// storedResponse is either an in-flight reservation (Status 0) or a
// completed response. Fingerprint ties the key to one request body.
type storedResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// unsafe methods. Keys are scoped to method and path, and reusing a key with
// a different body is rejected. A request whose handler returns an error
// releases its key so the client may retry.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		if len(key) > 128 {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key is too long")
		}

		cacheKey := idempotencyPrefix + c.Method() + ":" + c.Path() + ":" + key
		fingerprint := bodyFingerprint(c.Body())
		log := logger.With(slog.String("idempotency_key", key), slog.String("path", c.Path()))

		ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
		defer cancel()

		reservation, _ := json.Marshal(storedResponse{Fingerprint: fingerprint})
		reserved, err := cache.SetNX(ctx, cacheKey, reservation, ttl).Result()
		if err != nil {
			log.Error("idempotency reservation failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			return replay(ctx, c, cache, cacheKey, fingerprint, log)
		}

		if err := c.Next(); err != nil {
			release(cache, cacheKey)
			return err
		}

		stored := storedResponse{
			Fingerprint: fingerprint,
			Status:      c.Response().StatusCode(),
			Body:        string(c.Response().Body()),
			Headers:     map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			log.Error("encode idempotent response", slog.Any("error", err))
			release(cache, cacheKey)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), idempotencyTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			// The response already went through; only the replay is lost.
			log.Error("persist idempotent response", slog.Any("error", err))
			release(cache, cacheKey)
		}
		return nil
	}
}

func replay(ctx context.Context, c *fiber.Ctx, cache *redis.Client, cacheKey, fingerprint string, log *slog.Logger) error {
	cached, err := cache.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return fiber.NewError(fiber.StatusConflict, "duplicate request, retry")
	}
	if err != nil {
		log.Error("idempotency lookup failed", slog.Any("error", err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
	}

	var stored storedResponse
	if err := json.Unmarshal(cached, &stored); err != nil {
		log.Warn("decode stored idempotent response", slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	if stored.Fingerprint != fingerprint {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request")
	}
	if stored.Status == 0 {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	c.Set("Idempotent-Replayed", "true")
	return c.Status(stored.Status).SendString(stored.Body)
}

func release(cache *redis.Client, cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	cache.Del(ctx, cacheKey)
}

func bodyFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
