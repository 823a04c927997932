package swap

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/ledger"
)

// Handler exposes swap HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a swap HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type buyRequest struct {
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	SlippageBps int    `json:"slippage_bps"`
}

type quoteResponse struct {
	Token          string  `json:"token"`
	TargetAmount   string  `json:"target_amount"`
	InputSOL       string  `json:"input_sol"`
	ExpectedOutput string  `json:"expected_output"`
	MaxAchievable  string  `json:"max_achievable"`
	Route          string  `json:"route,omitempty"`
	State          State   `json:"state"`
	Trace          []State `json:"trace"`
}

type swapResponse struct {
	quoteResponse
	TransactionID string `json:"transaction_id"`
	Signature     string `json:"signature"`
	Status        string `json:"status"`
}

type transactionResponse struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Token       string     `json:"token"`
	Amount      string     `json:"amount"`
	InputAmount string     `json:"input_amount,omitempty"`
	TxHash      string     `json:"tx_hash,omitempty"`
	FailureCode string     `json:"failure_code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Buy executes a targeted swap.
func (h *Handler) Buy(c *fiber.Ctx) error {
	in, err := h.parse(c)
	if err != nil {
		return err
	}
	out, err := h.service.Buy(c.UserContext(), in)
	if err != nil {
		return failure(c, err)
	}
	return c.Status(http.StatusCreated).JSON(swapResponse{
		quoteResponse: toQuote(in.Amount, out.Result),
		TransactionID: out.Transaction.ID,
		Signature:     out.Result.Signature,
		Status:        string(out.Transaction.Status),
	})
}

// Preview quotes a targeted swap without executing it.
func (h *Handler) Preview(c *fiber.Ctx) error {
	in, err := h.parse(c)
	if err != nil {
		return err
	}
	res, err := h.service.Preview(c.UserContext(), in)
	if err != nil {
		return failure(c, err)
	}
	return c.Status(http.StatusOK).JSON(toQuote(in.Amount, res))
}

// History lists ledger records for the wallet.
func (h *Handler) History(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	txs, err := h.service.History(c.UserContext(), c.Params("walletId"), limit)
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.UserMessage(err))
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransaction(tx))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

func (h *Handler) parse(c *fiber.Ctx) (BuyInput, error) {
	var req buyRequest
	if err := c.BodyParser(&req); err != nil {
		return BuyInput{}, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return BuyInput{}, fiber.NewError(http.StatusBadRequest, "amount must be a decimal string")
	}
	return BuyInput{
		WalletID:    c.Params("walletId"),
		Token:       req.Token,
		Amount:      amount,
		SlippageBps: req.SlippageBps,
	}, nil
}

func failure(c *fiber.Ctx, err error) error {
	var ife *InsufficientFundsError
	if errors.As(err, &ife) {
		body := fiber.Map{"error": ife.UserMessage(), "token": ife.Symbol}
		if ife.Repriced {
			body["quoted_output"] = ife.MaxAchievable.String()
		} else {
			body["max_achievable"] = ife.MaxAchievable.String()
		}
		return c.Status(apperr.HTTPStatus(err)).JSON(body)
	}
	return fiber.NewError(apperr.HTTPStatus(err), UserMessage(err))
}

func toQuote(target decimal.Decimal, res Result) quoteResponse {
	return quoteResponse{
		Token:          res.TargetToken,
		TargetAmount:   target.String(),
		InputSOL:       res.InputSOL().String(),
		ExpectedOutput: res.ExpectedOutput.String(),
		MaxAchievable:  res.MaxAchievable.String(),
		Route:          res.Route,
		State:          res.State,
		Trace:          res.Trace,
	}
}

func toTransaction(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		Type:        string(tx.Type),
		Status:      string(tx.Status),
		Token:       tx.TokenSymbol,
		Amount:      tx.Amount,
		InputAmount: tx.InputAmount,
		TxHash:      tx.TxHash,
		FailureCode: tx.FailureCode,
		CreatedAt:   tx.CreatedAt,
		ConfirmedAt: tx.ConfirmedAt,
	}
}
