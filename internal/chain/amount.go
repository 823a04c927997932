package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
)

const (
	// NativeDecimals is the number of decimals of SOL.
	NativeDecimals = 9
	// LamportsPerSOL is the number of base units in one SOL.
	LamportsPerSOL = 1_000_000_000
)

// ToBaseUnits converts a decimal amount to integer base units, truncating any
// precision the token cannot represent.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if amount.IsNegative() {
		return 0, apperr.Validation("amount must not be negative")
	}
	scaled := amount.Shift(decimals).Truncate(0)
	if !scaled.BigInt().IsUint64() {
		return 0, apperr.Validation(fmt.Sprintf("amount %s out of range", amount.String()))
	}
	return scaled.BigInt().Uint64(), nil
}

// FromBaseUnits converts integer base units to a decimal amount.
func FromBaseUnits(units uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals)
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return FromBaseUnits(lamports, NativeDecimals)
}
