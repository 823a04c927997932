package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	apperr "github.com/obverse/obverse/internal/errors"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	UserID string `json:"user_id"`
}

// TokenResponse is a tracked token balance as exposed by the API.
type TokenResponse struct {
	Symbol          string `json:"symbol"`
	Balance         string `json:"balance"`
	ContractAddress string `json:"contract_address"`
	Decimals        int32  `json:"decimals"`
}

// Response is the public JSON view of a wallet.
type Response struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Chain     string          `json:"chain"`
	Address   string          `json:"address"`
	Active    bool            `json:"active"`
	Tokens    []TokenResponse `json:"tokens"`
	CreatedAt time.Time       `json:"created_at"`
}

// ToResponse renders the public fields of a wallet.
func ToResponse(w Wallet) Response {
	out := Response{
		ID:        w.ID,
		UserID:    w.UserID,
		Chain:     w.Chain,
		Address:   w.Address,
		Active:    w.Active,
		CreatedAt: w.CreatedAt,
		Tokens:    make([]TokenResponse, 0, len(w.Tokens)),
	}
	for _, t := range w.Tokens {
		out.Tokens = append(out.Tokens, TokenResponse{Symbol: t.Symbol, Balance: t.Balance, ContractAddress: t.ContractAddress, Decimals: t.Decimals})
	}
	return out
}

// Create provisions a wallet for a user.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{UserID: req.UserID})
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(w))
}

// Get returns wallet metadata.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	return c.Status(http.StatusOK).JSON(ToResponse(w))
}

// Balance returns the live wallet balances.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	balance, err := h.service.Balance(c.UserContext(), walletID)
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	tokens := make(fiber.Map, len(balance.Tokens))
	for _, t := range balance.Tokens {
		tokens[t.Symbol] = t.Balance.String()
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": walletID,
		"address":   balance.Address,
		"sol":       balance.Native.String(),
		"tokens":    tokens,
		"timestamp": balance.AsOf,
	})
}

// Deactivate flags a wallet inactive.
func (h *Handler) Deactivate(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	if err := h.service.Deactivate(c.UserContext(), walletID); err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallet_id": walletID, "active": false})
}
