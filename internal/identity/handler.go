package identity

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/wallet"
)

// WalletLister lists the wallets of a user.
type WalletLister interface {
	ListByUser(ctx context.Context, userID string) ([]wallet.Wallet, error)
}

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	wallets WalletLister
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service, wallets WalletLister) *Handler {
	return &Handler{service: service, wallets: wallets}
}

type registerRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
}

type userResponse struct {
	UserID       string    `json:"user_id"`
	TelegramID   int64     `json:"telegram_id"`
	Username     string    `json:"username"`
	DefaultChain string    `json:"default_chain"`
	WalletIDs    []string  `json:"wallet_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

func toResponse(u User) userResponse {
	return userResponse{
		UserID:       u.ID,
		TelegramID:   u.TelegramID,
		Username:     u.Username,
		DefaultChain: u.DefaultChain,
		WalletIDs:    u.WalletIDs,
		CreatedAt:    u.CreatedAt,
	}
}

// Register onboards a user and provisions the first wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.EnsureRegistered(c.UserContext(), Profile{TelegramID: req.TelegramID, Username: req.Username})
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"user":   toResponse(res.User),
		"wallet": wallet.ToResponse(res.Wallet),
	})
}

// Get returns a user profile.
func (h *Handler) Get(c *fiber.Ctx) error {
	user, err := h.service.Get(c.UserContext(), c.Params("userId"))
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	return c.Status(http.StatusOK).JSON(toResponse(user))
}

// Wallets lists the wallets of a user.
func (h *Handler) Wallets(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if _, err := h.service.Get(c.UserContext(), userID); err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	wallets, err := h.wallets.ListByUser(c.UserContext(), userID)
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	out := make([]wallet.Response, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, wallet.ToResponse(w))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"user_id": userID, "wallets": out})
}
