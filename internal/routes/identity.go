package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/obverse/obverse/internal/identity"
)

// RegisterIdentityRoutes wires user endpoints. Registration provisions a wallet.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/users", h.Register)
	r.Get("/users/:userId", h.Get)
	r.Get("/users/:userId/wallets", h.Wallets)
}
