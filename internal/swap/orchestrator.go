package swap

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/obverse/obverse/internal/chain"
	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/jupiter"
	"github.com/obverse/obverse/internal/tokens"
	"github.com/obverse/obverse/internal/wallet"
)

// DefaultFeeReserve is the SOL kept back for network fees and rent.
var DefaultFeeReserve = decimal.RequireFromString("0.005")

// BalanceSource reads the native balance in lamports.
type BalanceSource interface {
	NativeBalanceLamports(ctx context.Context, address string) (uint64, error)
}

// Quoter is the aggregator.
type Quoter interface {
	GetQuote(ctx context.Context, req jupiter.QuoteRequest) (jupiter.Quote, bool, error)
	GetSwapTransaction(ctx context.Context, quote jupiter.Quote, userPublicKey string) (string, error)
}

// KeySource restores wallet signing keys.
type KeySource interface {
	RestoreSigningKey(ctx context.Context, w wallet.Wallet) (*chain.Keypair, error)
}

// Submitter signs and submits aggregator transactions.
type Submitter interface {
	SignSwap(payload string, kp *chain.Keypair) (*solana.Transaction, error)
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Observer is notified once per finished flow.
type Observer interface {
	SwapFinished(res Result, err error, elapsed time.Duration)
}

// Request asks for exactly TargetAmount of TargetToken bought with SOL.
type Request struct {
	Wallet       wallet.Wallet
	TargetToken  string
	TargetAmount decimal.Decimal
	SlippageBps  int
}

// ExactInRequest spends exactly InputAmount SOL on TargetToken.
type ExactInRequest struct {
	Wallet      wallet.Wallet
	TargetToken string
	InputAmount decimal.Decimal
	SlippageBps int
}

// Result describes how far a flow got. Amounts ending in Units are base units.
type Result struct {
	State          State
	Trace          []State
	TargetToken    string
	TargetUnits    uint64
	InputLamports  uint64
	ExpectedUnits  uint64
	ExpectedOutput decimal.Decimal
	MaxAchievable  decimal.Decimal
	Route          string
	Signature      string
}

// InputSOL is the SOL amount committed to the swap.
func (r Result) InputSOL() decimal.Decimal {
	return chain.LamportsToSOL(r.InputLamports)
}

func (r *Result) enter(s State) {
	r.State = s
	r.Trace = append(r.Trace, s)
}

// Options tunes an Orchestrator.
type Options struct {
	FeeReserve  decimal.Decimal
	StepTimeout time.Duration
	Observer    Observer
	Logger      *slog.Logger
}

// Orchestrator runs the quote, sign and broadcast workflow. It performs no
// locking; callers hold a per-wallet lease for the duration of a flow.
type Orchestrator struct {
	balances    BalanceSource
	quotes      Quoter
	keys        KeySource
	submitter   Submitter
	tokens      *tokens.Registry
	feeReserve  uint64
	stepTimeout time.Duration
	observer    Observer
	logger      *slog.Logger
}

// NewOrchestrator wires the workflow dependencies.
func NewOrchestrator(balances BalanceSource, quotes Quoter, keys KeySource, submitter Submitter, registry *tokens.Registry, opts Options) (*Orchestrator, error) {
	reserve := opts.FeeReserve
	if reserve.IsZero() {
		reserve = DefaultFeeReserve
	}
	reserveLamports, err := chain.ToBaseUnits(reserve, chain.NativeDecimals)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		balances:    balances,
		quotes:      quotes,
		keys:        keys,
		submitter:   submitter,
		tokens:      registry,
		feeReserve:  reserveLamports,
		stepTimeout: opts.StepTimeout,
		observer:    opts.Observer,
		logger:      logger,
	}, nil
}

// ExecuteTargetedSwap buys exactly req.TargetAmount of the target token. It
// quotes the full spendable balance first to learn the rate and the maximum
// achievable output, scales the input to the target, re-quotes, and only then
// builds, signs and submits the transaction. Submission is never retried.
func (o *Orchestrator) ExecuteTargetedSwap(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	res.enter(StateIdle)
	defer func() { o.finish(&res, err, start) }()

	target, targetUnits, err := o.validate(req.Wallet, req.TargetToken, req.TargetAmount, req.SlippageBps, -1)
	if err != nil {
		return res, err
	}
	res.TargetToken = target.Symbol
	res.TargetUnits = targetUnits

	quote, err := o.plan(ctx, req, target, &res)
	if err != nil {
		return res, err
	}
	return o.settle(ctx, req.Wallet, quote, &res)
}

// Validate checks req without any external call.
func (o *Orchestrator) Validate(req Request) error {
	_, _, err := o.validate(req.Wallet, req.TargetToken, req.TargetAmount, req.SlippageBps, -1)
	return err
}

// Preview runs the two quoting passes without building or signing anything.
func (o *Orchestrator) Preview(ctx context.Context, req Request) (Result, error) {
	var res Result
	res.enter(StateIdle)

	target, targetUnits, err := o.validate(req.Wallet, req.TargetToken, req.TargetAmount, req.SlippageBps, -1)
	if err != nil {
		return res, err
	}
	res.TargetToken = target.Symbol
	res.TargetUnits = targetUnits

	if _, err := o.plan(ctx, req, target, &res); err != nil {
		return res, err
	}
	return res, nil
}

// ExecuteExactInSwap spends exactly req.InputAmount SOL on the target token.
func (o *Orchestrator) ExecuteExactInSwap(ctx context.Context, req ExactInRequest) (res Result, err error) {
	start := time.Now()
	res.enter(StateIdle)
	defer func() { o.finish(&res, err, start) }()

	target, inputLamports, err := o.validate(req.Wallet, req.TargetToken, req.InputAmount, req.SlippageBps, chain.NativeDecimals)
	if err != nil {
		return res, err
	}
	res.TargetToken = target.Symbol

	spendable, err := o.spendable(ctx, req.Wallet.Address)
	if err != nil {
		return res, err
	}
	if inputLamports > spendable {
		return res, &InsufficientFundsError{Symbol: tokens.NativeSymbol, Target: req.InputAmount, MaxAchievable: chain.LamportsToSOL(spendable)}
	}

	res.enter(StateQuotingPrecise)
	quote, err := o.quote(ctx, target, inputLamports, req.SlippageBps)
	if err != nil {
		return res, err
	}
	res.InputLamports = inputLamports
	res.ExpectedUnits = quote.OutAmount
	res.ExpectedOutput = chain.FromBaseUnits(quote.OutAmount, target.Decimals)
	res.Route = quote.Route

	return o.settle(ctx, req.Wallet, quote, &res)
}

// validate checks a request before any external call and converts amount to
// base units. A negative decimals value means the target token's decimals.
func (o *Orchestrator) validate(w wallet.Wallet, symbol string, amount decimal.Decimal, slippageBps int, decimals int32) (tokens.Token, uint64, error) {
	if !amount.IsPositive() {
		return tokens.Token{}, 0, apperr.Validation("amount must be greater than zero")
	}
	if slippageBps <= 0 || slippageBps > jupiter.MaxSlippageBps {
		return tokens.Token{}, 0, apperr.Validation("slippage must be between 1 and 10000 bps")
	}
	target, err := o.tokens.Lookup(symbol)
	if err != nil {
		return tokens.Token{}, 0, err
	}
	if target.IsNative() {
		return tokens.Token{}, 0, apperr.Validation("cannot swap SOL into SOL")
	}
	if !w.Active {
		return tokens.Token{}, 0, apperr.Validation("wallet is deactivated")
	}
	if _, err := chain.ParseAddress(w.Address); err != nil {
		return tokens.Token{}, 0, err
	}
	if decimals < 0 {
		decimals = target.Decimals
	}
	units, err := chain.ToBaseUnits(amount, decimals)
	if err != nil {
		return tokens.Token{}, 0, err
	}
	if units == 0 {
		return tokens.Token{}, 0, apperr.Validation("amount is below the smallest unit")
	}
	return target, units, nil
}

// plan runs steps one to four: balance, full quote, scaling and the precise quote.
func (o *Orchestrator) plan(ctx context.Context, req Request, target tokens.Token, res *Result) (jupiter.Quote, error) {
	spendable, err := o.spendable(ctx, req.Wallet.Address)
	if err != nil {
		return jupiter.Quote{}, err
	}
	if spendable == 0 {
		return jupiter.Quote{}, &InsufficientFundsError{Symbol: target.Symbol, Target: req.TargetAmount, MaxAchievable: decimal.Zero}
	}

	res.enter(StateQuotingAvailable)
	full, err := o.quote(ctx, target, spendable, req.SlippageBps)
	if err != nil {
		return jupiter.Quote{}, err
	}
	res.MaxAchievable = chain.FromBaseUnits(full.OutAmount, target.Decimals)
	if full.OutAmount < res.TargetUnits {
		return jupiter.Quote{}, &InsufficientFundsError{Symbol: target.Symbol, Target: req.TargetAmount, MaxAchievable: res.MaxAchievable}
	}

	needed := NeededInput(spendable, res.TargetUnits, full.OutAmount)

	res.enter(StateQuotingPrecise)
	precise, err := o.quote(ctx, target, needed, req.SlippageBps)
	if err != nil {
		return jupiter.Quote{}, err
	}
	if precise.OutAmount < res.TargetUnits {
		return jupiter.Quote{}, &InsufficientFundsError{
			Symbol:        target.Symbol,
			Target:        req.TargetAmount,
			MaxAchievable: chain.FromBaseUnits(precise.OutAmount, target.Decimals),
			Repriced:      true,
		}
	}

	res.InputLamports = needed
	res.ExpectedUnits = precise.OutAmount
	res.ExpectedOutput = chain.FromBaseUnits(precise.OutAmount, target.Decimals)
	res.Route = precise.Route
	return precise, nil
}

// settle runs the payload, signing and broadcast steps.
func (o *Orchestrator) settle(ctx context.Context, w wallet.Wallet, quote jupiter.Quote, res *Result) (Result, error) {
	res.enter(StateAwaitingTransaction)
	stepCtx, cancel := o.step(ctx)
	payload, err := o.quotes.GetSwapTransaction(stepCtx, quote, w.Address)
	cancel()
	if err != nil {
		return *res, err
	}

	res.enter(StateSigning)
	tx, err := o.sign(ctx, w, payload)
	if err != nil {
		return *res, err
	}

	res.enter(StateBroadcasting)
	stepCtx, cancel = o.step(ctx)
	sig, err := o.submitter.Send(stepCtx, tx)
	cancel()
	if err != nil {
		return *res, err
	}

	res.Signature = sig.String()
	res.enter(StateSettled)
	return *res, nil
}

// sign restores the key, signs and wipes the key before returning.
func (o *Orchestrator) sign(ctx context.Context, w wallet.Wallet, payload string) (*solana.Transaction, error) {
	kp, err := o.keys.RestoreSigningKey(ctx, w)
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()
	return o.submitter.SignSwap(payload, kp)
}

func (o *Orchestrator) spendable(ctx context.Context, address string) (uint64, error) {
	stepCtx, cancel := o.step(ctx)
	defer cancel()
	lamports, err := o.balances.NativeBalanceLamports(stepCtx, address)
	if err != nil {
		return 0, err
	}
	if lamports <= o.feeReserve {
		return 0, nil
	}
	return lamports - o.feeReserve, nil
}

func (o *Orchestrator) quote(ctx context.Context, target tokens.Token, amount uint64, slippageBps int) (jupiter.Quote, error) {
	stepCtx, cancel := o.step(ctx)
	defer cancel()
	q, ok, err := o.quotes.GetQuote(stepCtx, jupiter.QuoteRequest{
		InputMint:   o.tokens.Native().Mint,
		OutputMint:  target.Mint,
		Amount:      amount,
		SlippageBps: slippageBps,
	})
	if err != nil {
		return jupiter.Quote{}, err
	}
	if !ok {
		return jupiter.Quote{}, apperr.New(apperr.CodeNoRoute, "no route from SOL to "+target.Symbol)
	}
	return q, nil
}

func (o *Orchestrator) step(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.stepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.stepTimeout)
}

func (o *Orchestrator) finish(res *Result, err error, start time.Time) {
	if err != nil {
		res.enter(StateFailed)
		code := apperr.CodeOf(err)
		o.logger.Warn("swap failed",
			slog.String("token", res.TargetToken),
			slog.String("code", code.String()),
			slog.Any("trace", res.Trace),
		)
		o.logger.Debug("swap failure cause", slog.Any("error", err))
	} else {
		o.logger.Info("swap settled",
			slog.String("token", res.TargetToken),
			slog.Uint64("input_lamports", res.InputLamports),
			slog.Uint64("expected_units", res.ExpectedUnits),
			slog.String("signature", res.Signature),
		)
	}
	if o.observer != nil {
		o.observer.SwapFinished(*res, err, time.Since(start))
	}
}

// NeededInput scales spendable by target/achievable, rounding up so the
// precise quote is not short by a rounding unit, and never exceeds spendable.
func NeededInput(spendable, targetUnits, achievableUnits uint64) uint64 {
	if achievableUnits == 0 {
		return 0
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(spendable), new(big.Int).SetUint64(targetUnits))
	den := new(big.Int).SetUint64(achievableUnits)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() || q.Uint64() > spendable {
		return spendable
	}
	return q.Uint64()
}
