package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// SwapRateLimit caps swap attempts per wallet per minute using a Redis fixed
// window. Without Redis, or when Redis errors, requests pass through.
func SwapRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := c.Params("walletId")
		if subject == "" {
			subject = c.IP()
		}
		window := time.Now().UTC().Truncate(time.Minute).Unix()
		key := "rl:swap:" + subject + ":" + strconv.FormatInt(window, 10)

		pipe := cache.TxPipeline()
		incr := pipe.Incr(c.UserContext(), key)
		pipe.Expire(c.UserContext(), key, 2*time.Minute)
		if _, err := pipe.Exec(c.UserContext()); err != nil {
			return c.Next()
		}
		if incr.Val() > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "too many swap attempts, try again in a minute")
		}
		return c.Next()
	}
}
