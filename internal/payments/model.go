package payments

import "time"

// Status is the lifecycle state of a payment link.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaid      Status = "paid"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Link asks a payer to send Amount of TokenSymbol to the merchant's primary
// wallet. Amount is a decimal string in token units.
type Link struct {
	ID             string     `bson:"_id"`
	MerchantUserID string     `bson:"merchant_user_id"`
	WalletID       string     `bson:"wallet_id"`
	Address        string     `bson:"address"`
	Chain          string     `bson:"chain"`
	Amount         string     `bson:"amount"`
	TokenSymbol    string     `bson:"token_symbol"`
	TokenAddress   string     `bson:"token_address"`
	Description    string     `bson:"description,omitempty"`
	SingleUse      bool       `bson:"single_use"`
	ExpiresAt      *time.Time `bson:"expires_at,omitempty"`
	WebhookURL     string     `bson:"webhook_url,omitempty"`
	RedirectURL    string     `bson:"redirect_url,omitempty"`
	Status         Status     `bson:"status"`
	Payments       int        `bson:"payments"`
	PaymentTxHash  string     `bson:"payment_tx_hash,omitempty"`
	PaidByUserID   string     `bson:"paid_by_user_id,omitempty"`
	PaidAt         *time.Time `bson:"paid_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

// Due reports whether an active link has passed its expiry.
func (l Link) Due(now time.Time) bool {
	return l.Status == StatusActive && l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Payment is a confirmed on-chain payment against a link.
type Payment struct {
	TxHash       string
	PaidByUserID string
	PaidAt       time.Time
}
