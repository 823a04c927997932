package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/obverse/obverse/internal/payments"
)

// RegisterPaymentRoutes wires payment link endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/payment-links", h.Create)
	r.Get("/payment-links/:linkId", h.Get)
	r.Post("/payment-links/:linkId/confirm", h.Confirm)
	r.Post("/payment-links/:linkId/cancel", h.Cancel)
	r.Get("/users/:userId/payment-links", h.ListByMerchant)
}
