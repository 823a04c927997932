package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const principalLocal = "principal"

// APIKeyAuth requires "Authorization: Bearer <key>" matching the operator
// key. The comparison is constant time. An empty key disables the check,
// which the router only allows in development.
func APIKeyAuth(key string) fiber.Handler {
	want := sha256.Sum256([]byte(key))
	return func(c *fiber.Ctx) error {
		if key == "" {
			c.Locals(principalLocal, "anonymous")
			return c.Next()
		}
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		got := sha256.Sum256([]byte(strings.TrimSpace(authz[len("bearer "):])))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "invalid api key")
		}
		c.Locals(principalLocal, "operator")
		return c.Next()
	}
}

// PrincipalFrom returns the caller identity set by APIKeyAuth.
func PrincipalFrom(c *fiber.Ctx) string {
	p, _ := c.Locals(principalLocal).(string)
	return p
}
