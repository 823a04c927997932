package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChainSolana is the only chain custodied today.
const ChainSolana = "solana"

// Wallet is a custodial wallet record. EncryptedKey, KeySalt, KDFIterations
// and SecretID together describe how to recover the signing key; none of
// them is ever serialised to API clients.
type Wallet struct {
	ID            string     `bson:"_id"`
	UserID        string     `bson:"user_id"`
	Chain         string     `bson:"chain"`
	Address       string     `bson:"address"`
	EncryptedKey  string     `bson:"encrypted_key"`
	KeySalt       []byte     `bson:"key_salt"`
	KDFIterations int        `bson:"kdf_iterations"`
	SecretID      string     `bson:"secret_id,omitempty"`
	Tokens        []Token    `bson:"tokens"`
	Active        bool       `bson:"active"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
	DeactivatedAt *time.Time `bson:"deactivated_at,omitempty"`
}

// Token is a balance entry tracked on a wallet. Balance is a decimal string.
type Token struct {
	Symbol          string `bson:"symbol"`
	Balance         string `bson:"balance"`
	ContractAddress string `bson:"contract_address"`
	Decimals        int32  `bson:"decimals"`
}

// Token returns the entry for symbol.
func (w Wallet) Token(symbol string) (Token, bool) {
	for _, t := range w.Tokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// KeyMaterial is the persisted form of an encrypted signing key.
type KeyMaterial struct {
	EncryptedKey  string
	Salt          []byte
	KDFIterations int
	SecretID      string
}

// TokenBalance is a live balance read from the chain.
type TokenBalance struct {
	Symbol  string
	Mint    string
	Balance decimal.Decimal
}

// Balance encapsulates the on-chain holdings of a wallet.
type Balance struct {
	WalletID string
	Address  string
	Native   decimal.Decimal
	Tokens   []TokenBalance
	AsOf     time.Time
}
