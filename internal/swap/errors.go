package swap

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
)

// InsufficientFundsError reports that the wallet cannot reach the requested
// amount. MaxAchievable is what the full spendable balance would buy, except
// when Repriced is set: the full balance covered Target but the scaled input
// did not, and MaxAchievable is what that scaled input would buy.
type InsufficientFundsError struct {
	Symbol        string
	Target        decimal.Decimal
	MaxAchievable decimal.Decimal
	Repriced      bool
}

func (e *InsufficientFundsError) Error() string {
	if e.Repriced {
		return fmt.Sprintf("insufficient funds: requested %s %s, precise quote returned %s", e.Target.String(), e.Symbol, e.MaxAchievable.String())
	}
	return fmt.Sprintf("insufficient funds: requested %s %s, at most %s achievable", e.Target.String(), e.Symbol, e.MaxAchievable.String())
}

func (e *InsufficientFundsError) Unwrap() error { return apperr.ErrInsufficientFunds }

// UserMessage is the end-user text for the error.
func (e *InsufficientFundsError) UserMessage() string {
	if e.Repriced {
		return fmt.Sprintf("The price moved while preparing your swap: the required SOL now buys only %s %s. Please try again.", e.MaxAchievable.Truncate(2).StringFixed(2), e.Symbol)
	}
	if e.MaxAchievable.IsZero() {
		return "Your SOL balance does not cover the network fee reserve. Please fund your wallet first."
	}
	return fmt.Sprintf("Your balance can buy at most %s %s right now.", e.MaxAchievable.Truncate(2).StringFixed(2), e.Symbol)
}

// UserMessage returns user-safe text for any swap error.
func UserMessage(err error) string {
	var ife *InsufficientFundsError
	if errors.As(err, &ife) {
		return ife.UserMessage()
	}
	return apperr.UserMessage(err)
}
