package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	apperr "github.com/obverse/obverse/internal/errors"
)

// Handler exposes HTTP endpoints for wallet funding.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// DepositResponse is the JSON view of deposit instructions.
type DepositResponse struct {
	WalletID   string `json:"wallet_id"`
	Address    string `json:"address"`
	Asset      string `json:"asset"`
	FeeReserve string `json:"fee_reserve"`
}

// ReconcileResponse is the JSON view of a reconciliation pass.
type ReconcileResponse struct {
	WalletID      string `json:"wallet_id"`
	Previous      string `json:"previous_balance"`
	Current       string `json:"current_balance"`
	Received      string `json:"received"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Deposit returns where to send SOL for the wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	in, err := h.service.InstructionsForWallet(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	return c.Status(http.StatusOK).JSON(DepositResponse{
		WalletID:   in.WalletID,
		Address:    in.Address,
		Asset:      in.Asset,
		FeeReserve: in.FeeReserve.String(),
	})
}

// Reconcile checks the chain for new deposits.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	dep, err := h.service.Reconcile(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	resp := ReconcileResponse{
		WalletID: dep.WalletID,
		Previous: dep.Previous.String(),
		Current:  dep.Current.String(),
		Received: dep.Received.String(),
	}
	if dep.Transaction != nil {
		resp.TransactionID = dep.Transaction.ID
	}
	return c.Status(http.StatusOK).JSON(resp)
}
