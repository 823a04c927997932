package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/obverse/obverse/internal/swap"
)

// RegisterSwapRoutes wires purchase endpoints. limit guards the executing route.
func RegisterSwapRoutes(r fiber.Router, h *swap.Handler, limit fiber.Handler) {
	r.Post("/wallets/:walletId/swaps", limit, h.Buy)
	r.Post("/wallets/:walletId/swaps/preview", h.Preview)
	r.Get("/wallets/:walletId/transactions", h.History)
}
