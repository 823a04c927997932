package chain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
)

// BalanceRPC is the subset of *rpc.Client used to read balances.
type BalanceRPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// BalanceOracle reads on-chain balances at finalized commitment.
type BalanceOracle struct {
	rpc     BalanceRPC
	timeout time.Duration
}

// NewBalanceOracle builds an oracle; timeout bounds every RPC call.
func NewBalanceOracle(client BalanceRPC, timeout time.Duration) *BalanceOracle {
	return &BalanceOracle{rpc: client, timeout: timeout}
}

// NativeBalanceLamports returns the SOL balance in lamports.
func (o *BalanceOracle) NativeBalanceLamports(ctx context.Context, address string) (uint64, error) {
	pub, err := ParseAddress(address)
	if err != nil {
		return 0, err
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	res, err := o.rpc.GetBalance(ctx, pub, rpc.CommitmentFinalized)
	if err != nil {
		return 0, mapRPCError(ctx, "get balance", err)
	}
	if res == nil {
		return 0, apperr.New(apperr.CodeRPCUnavailable, "get balance: empty response")
	}
	return res.Value, nil
}

// NativeBalance returns the SOL balance as a decimal.
func (o *BalanceOracle) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	lamports, err := o.NativeBalanceLamports(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return LamportsToSOL(lamports), nil
}

// TokenBalance returns the SPL token balance held in the owner's associated
// token account. A missing account is a genuine zero balance.
func (o *BalanceOracle) TokenBalance(ctx context.Context, owner, mint string) (decimal.Decimal, error) {
	ownerKey, err := ParseAddress(owner)
	if err != nil {
		return decimal.Zero, err
	}
	mintKey, err := ParseAddress(mint)
	if err != nil {
		return decimal.Zero, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, mintKey)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.CodeValidation, "derive token account", err)
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	res, err := o.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentFinalized)
	if err != nil {
		if isMissingAccount(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, mapRPCError(ctx, "get token balance", err)
	}
	if res == nil || res.Value == nil {
		return decimal.Zero, apperr.New(apperr.CodeRPCUnavailable, "get token balance: empty response")
	}
	amount, err := decimal.NewFromString(res.Value.Amount)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.CodeRPCUnavailable, "parse token balance", err)
	}
	return amount.Shift(-int32(res.Value.Decimals)), nil
}

func (o *BalanceOracle) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func isMissingAccount(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return strings.Contains(strings.ToLower(rpcErr.Message), "could not find account")
	}
	return false
}

// mapRPCError classifies a node failure. Deadline overruns become timeouts;
// everything else is reported as an unavailable upstream.
func mapRPCError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeTimeout, op, err)
	}
	return apperr.Wrap(apperr.CodeRPCUnavailable, op, err)
}
