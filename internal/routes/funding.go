package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/obverse/obverse/internal/funding"
)

// RegisterFundingRoutes wires deposit endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Get("/wallets/:walletId/deposit", h.Deposit)
	r.Post("/wallets/:walletId/deposit/reconcile", h.Reconcile)
}
