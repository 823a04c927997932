package identity

import "time"

// User is a chat user who owns custodial wallets.
type User struct {
	ID                   string    `bson:"_id"`
	TelegramID           int64     `bson:"telegram_id"`
	Username             string    `bson:"username"`
	DefaultChain         string    `bson:"default_chain"`
	WalletIDs            []string  `bson:"wallet_ids"`
	NotificationsEnabled bool      `bson:"notifications_enabled"`
	CreatedAt            time.Time `bson:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at"`
}

// Profile is the registration request.
type Profile struct {
	TelegramID int64
	Username   string
}
