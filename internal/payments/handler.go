package payments

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
)

// Handler exposes payment link endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment link handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	MerchantUserID string `json:"merchant_user_id"`
	Amount         string `json:"amount"`
	Token          string `json:"token"`
	Description    string `json:"description"`
	SingleUse      bool   `json:"single_use"`
	ExpiresInHours int    `json:"expires_in_hours"`
	WebhookURL     string `json:"webhook_url"`
	RedirectURL    string `json:"redirect_url"`
}

type confirmRequest struct {
	TxHash       string `json:"tx_hash"`
	PaidByUserID string `json:"paid_by_user_id"`
}

type linkResponse struct {
	LinkID         string     `json:"link_id"`
	MerchantUserID string     `json:"merchant_user_id"`
	Address        string     `json:"address"`
	Chain          string     `json:"chain"`
	Amount         string     `json:"amount"`
	TokenSymbol    string     `json:"token_symbol"`
	TokenAddress   string     `json:"token_address"`
	Description    string     `json:"description,omitempty"`
	SingleUse      bool       `json:"single_use"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RedirectURL    string     `json:"redirect_url,omitempty"`
	Status         Status     `json:"status"`
	Payments       int        `json:"payments"`
	PaymentTxHash  string     `json:"payment_tx_hash,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toResponse(l Link) linkResponse {
	return linkResponse{
		LinkID:         l.ID,
		MerchantUserID: l.MerchantUserID,
		Address:        l.Address,
		Chain:          l.Chain,
		Amount:         l.Amount,
		TokenSymbol:    l.TokenSymbol,
		TokenAddress:   l.TokenAddress,
		Description:    l.Description,
		SingleUse:      l.SingleUse,
		ExpiresAt:      l.ExpiresAt,
		RedirectURL:    l.RedirectURL,
		Status:         l.Status,
		Payments:       l.Payments,
		PaymentTxHash:  l.PaymentTxHash,
		PaidAt:         l.PaidAt,
		CreatedAt:      l.CreatedAt,
	}
}

// Create issues a payment link.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount must be a decimal string")
	}
	link, err := h.service.Create(c.UserContext(), CreateInput{
		MerchantUserID: req.MerchantUserID,
		Amount:         amount,
		Token:          req.Token,
		Description:    req.Description,
		SingleUse:      req.SingleUse,
		ExpiresIn:      time.Duration(req.ExpiresInHours) * time.Hour,
		WebhookURL:     req.WebhookURL,
		RedirectURL:    req.RedirectURL,
	})
	if err != nil {
		return failure(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(link))
}

// Get returns a payment link.
func (h *Handler) Get(c *fiber.Ctx) error {
	link, err := h.service.Get(c.UserContext(), c.Params("linkId"))
	if err != nil {
		return failure(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(link))
}

// ListByMerchant lists a merchant's links; ?active=false includes closed ones.
func (h *Handler) ListByMerchant(c *fiber.Ctx) error {
	activeOnly := c.QueryBool("active", true)
	links, err := h.service.ListByMerchant(c.UserContext(), c.Params("userId"), activeOnly)
	if err != nil {
		return failure(err)
	}
	out := make([]linkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, toResponse(l))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"payment_links": out})
}

// Confirm records an on-chain payment against a link.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	link, err := h.service.Confirm(c.UserContext(), c.Params("linkId"), ConfirmInput{TxHash: req.TxHash, PaidByUserID: req.PaidByUserID})
	if err != nil {
		return failure(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(link))
}

// Cancel closes an active link.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	link, err := h.service.Cancel(c.UserContext(), c.Params("linkId"))
	if err != nil {
		return failure(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(link))
}

// failure keeps the link state messages, which never carry provider text.
func failure(err error) error {
	if e, ok := apperr.As(err); ok && e.Code == apperr.CodeConflict {
		return fiber.NewError(http.StatusConflict, e.Message)
	}
	return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
}
