package conversation

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is a step of the /buy conversation.
type State string

const (
	StateIdle                 State = "idle"
	StateChoosingCurrency     State = "choosing_currency"
	StateAwaitingAmount       State = "awaiting_amount"
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// Session is the partial purchase a chat has collected so far. ID is the
// chat-scoped key; nothing in a session has side effects until Confirm.
type Session struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	WalletID  string          `json:"wallet_id"`
	State     State           `json:"state"`
	Token     string          `json:"token,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Completed is a confirmed purchase handed to the swap workflow.
type Completed struct {
	UserID   string
	WalletID string
	Token    string
	Amount   decimal.Decimal
}
