package swap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/obverse/obverse/internal/chain"
	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/jupiter"
	"github.com/obverse/obverse/internal/logging"
	"github.com/obverse/obverse/internal/tokens"
	"github.com/obverse/obverse/internal/wallet"
)

// callLog records the order in which collaborators are used.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (l *callLog) index(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.calls {
		if c == name {
			return i
		}
	}
	return -1
}

type fakeBalances struct {
	log      *callLog
	lamports uint64
	err      error
}

func (f *fakeBalances) NativeBalanceLamports(context.Context, string) (uint64, error) {
	f.log.add("balance")
	return f.lamports, f.err
}

// fakeQuoter prices output at rateNum/rateDen base units per lamport. A
// non-zero repricePct scales every quote after the first by that percentage.
type fakeQuoter struct {
	log        *callLog
	rateNum    uint64
	rateDen    uint64
	repricePct uint64
	noRoute    bool
	quoteErr   error
	payloadErr error
	requests   []jupiter.QuoteRequest
}

func (f *fakeQuoter) GetQuote(_ context.Context, req jupiter.QuoteRequest) (jupiter.Quote, bool, error) {
	f.log.add("quote")
	f.requests = append(f.requests, req)
	if f.quoteErr != nil {
		return jupiter.Quote{}, false, f.quoteErr
	}
	if f.noRoute {
		return jupiter.Quote{}, false, nil
	}
	out := req.Amount * f.rateNum / f.rateDen
	if f.repricePct > 0 && len(f.requests) > 1 {
		out = out * f.repricePct / 100
	}
	return jupiter.Quote{
		InputMint:   req.InputMint,
		OutputMint:  req.OutputMint,
		InAmount:    req.Amount,
		OutAmount:   out,
		SlippageBps: req.SlippageBps,
		Route:       "Whirlpool",
	}, true, nil
}

func (f *fakeQuoter) GetSwapTransaction(context.Context, jupiter.Quote, string) (string, error) {
	f.log.add("payload")
	if f.payloadErr != nil {
		return "", f.payloadErr
	}
	return "payload", nil
}

type fakeKeys struct {
	log      *callLog
	restored []*chain.Keypair
	err      error
}

func (f *fakeKeys) RestoreSigningKey(context.Context, wallet.Wallet) (*chain.Keypair, error) {
	f.log.add("restore")
	if f.err != nil {
		return nil, f.err
	}
	kp, err := chain.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	f.restored = append(f.restored, kp)
	return kp, nil
}

type fakeSubmitter struct {
	log     *callLog
	sendErr error
}

func (f *fakeSubmitter) SignSwap(payload string, kp *chain.Keypair) (*solana.Transaction, error) {
	f.log.add("sign")
	if payload != "payload" || len(kp.Bytes()) == 0 {
		return nil, apperr.New(apperr.CodeBroadcast, "unexpected signing input")
	}
	return &solana.Transaction{}, nil
}

func (f *fakeSubmitter) Send(context.Context, *solana.Transaction) (solana.Signature, error) {
	f.log.add("send")
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return solana.Signature{1, 2, 3}, nil
}

type recordingObserver struct {
	results []Result
	errs    []error
}

func (o *recordingObserver) SwapFinished(res Result, err error, _ time.Duration) {
	o.results = append(o.results, res)
	o.errs = append(o.errs, err)
}

type fixture struct {
	log       *callLog
	balances  *fakeBalances
	quoter    *fakeQuoter
	keys      *fakeKeys
	submitter *fakeSubmitter
	observer  *recordingObserver
	orch      *Orchestrator
	wallet    wallet.Wallet
}

// newFixture funds the wallet with 0.1 SOL and prices 1 lamport at 0.15 USDT
// base units, so the 0.095 SOL spendable buys at most 14.25 USDT.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := &callLog{}
	f := &fixture{
		log:       log,
		balances:  &fakeBalances{log: log, lamports: 100_000_000},
		quoter:    &fakeQuoter{log: log, rateNum: 15, rateDen: 100},
		keys:      &fakeKeys{log: log},
		submitter: &fakeSubmitter{log: log},
		observer:  &recordingObserver{},
	}
	orch, err := NewOrchestrator(f.balances, f.quoter, f.keys, f.submitter, tokens.NewRegistry(), Options{
		FeeReserve:  decimal.RequireFromString("0.005"),
		StepTimeout: time.Second,
		Observer:    f.observer,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	f.orch = orch

	kp, err := chain.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	f.wallet = wallet.Wallet{ID: "wallet-1", UserID: "user-1", Address: kp.Address(), Active: true, Chain: wallet.ChainSolana}
	return f
}

func (f *fixture) request(amount string) Request {
	return Request{Wallet: f.wallet, TargetToken: "USDT", TargetAmount: decimal.RequireFromString(amount), SlippageBps: 50}
}

func TestTargetedSwapScalesInputToTarget(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.ExecuteTargetedSwap(context.Background(), f.request("10"))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if len(f.quoter.requests) != 2 {
		t.Fatalf("expected two quotes, got %d", len(f.quoter.requests))
	}
	if got := f.quoter.requests[0].Amount; got != 95_000_000 {
		t.Fatalf("expected first quote on spendable 95000000 lamports, got %d", got)
	}
	// ceil(95000000 * 10000000 / 14250000)
	if got := f.quoter.requests[1].Amount; got != 66_666_667 {
		t.Fatalf("expected precise quote input 66666667, got %d", got)
	}
	if res.InputLamports != 66_666_667 {
		t.Fatalf("unexpected input lamports %d", res.InputLamports)
	}
	if res.ExpectedUnits < 10_000_000 {
		t.Fatalf("expected output to cover target, got %d", res.ExpectedUnits)
	}
	if !res.MaxAchievable.Equal(decimal.RequireFromString("14.25")) {
		t.Fatalf("unexpected max achievable %s", res.MaxAchievable)
	}
	if res.State != StateSettled || res.Signature == "" {
		t.Fatalf("expected settled swap with signature, got %+v", res)
	}

	want := []State{StateIdle, StateQuotingAvailable, StateQuotingPrecise, StateAwaitingTransaction, StateSigning, StateBroadcasting, StateSettled}
	if len(res.Trace) != len(want) {
		t.Fatalf("unexpected trace %v", res.Trace)
	}
	for i := range want {
		if res.Trace[i] != want[i] {
			t.Fatalf("trace[%d] = %s, want %s", i, res.Trace[i], want[i])
		}
	}

	if f.log.index("payload") > f.log.index("send") || f.log.index("sign") > f.log.index("send") {
		t.Fatalf("broadcast happened before payload and signing: %v", f.log.calls)
	}
	if len(f.keys.restored) != 1 || len(f.keys.restored[0].Bytes()) != 0 {
		t.Fatalf("expected restored key to be wiped")
	}
	if len(f.observer.results) != 1 || f.observer.errs[0] != nil {
		t.Fatalf("expected one successful observation")
	}
}

func TestTargetedSwapRejectsInvalidInputWithoutCalls(t *testing.T) {
	cases := map[string]func(*Request){
		"zero amount":     func(r *Request) { r.TargetAmount = decimal.Zero },
		"negative amount": func(r *Request) { r.TargetAmount = decimal.RequireFromString("-1") },
		"unknown token":   func(r *Request) { r.TargetToken = "DOGE" },
		"native target":   func(r *Request) { r.TargetToken = "SOL" },
		"slippage":        func(r *Request) { r.SlippageBps = 0 },
		"inactive wallet": func(r *Request) { r.Wallet.Active = false },
		"bad address":     func(r *Request) { r.Wallet.Address = "not-an-address" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request("10")
			mutate(&req)
			res, err := f.orch.ExecuteTargetedSwap(context.Background(), req)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(f.log.calls) != 0 {
				t.Fatalf("expected no external calls, got %v", f.log.calls)
			}
			if res.State != StateFailed {
				t.Fatalf("expected failed state, got %s", res.State)
			}
		})
	}
}

func TestTargetedSwapStopsWhenFirstQuoteFallsShort(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.ExecuteTargetedSwap(context.Background(), f.request("20"))
	var ife *InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected error to match insufficient funds code")
	}
	if !ife.MaxAchievable.Equal(decimal.RequireFromString("14.25")) {
		t.Fatalf("expected max achievable 14.25, got %s", ife.MaxAchievable)
	}
	if f.log.count("quote") != 1 || f.log.count("payload") != 0 || f.log.count("restore") != 0 {
		t.Fatalf("expected flow to stop after first quote: %v", f.log.calls)
	}
	if msg := UserMessage(err); msg != "Your balance can buy at most 14.25 USDT right now." {
		t.Fatalf("unexpected user message %q", msg)
	}
}

func TestTargetedSwapStopsWhenPreciseQuoteFallsShort(t *testing.T) {
	f := newFixture(t)
	f.quoter.repricePct = 90

	res, err := f.orch.ExecuteTargetedSwap(context.Background(), f.request("10"))
	var ife *InsufficientFundsError
	if !errors.As(err, &ife) || !ife.Repriced {
		t.Fatalf("expected repriced insufficient funds, got %v", err)
	}
	// 66666667 lamports at 0.15 is 10 USDT, cut to 90% on the second pass.
	if !ife.MaxAchievable.Equal(decimal.RequireFromString("9")) {
		t.Fatalf("expected precise output 9, got %s", ife.MaxAchievable)
	}
	if msg := UserMessage(err); msg != "The price moved while preparing your swap: the required SOL now buys only 9.00 USDT. Please try again." {
		t.Fatalf("unexpected user message %q", msg)
	}
	if f.log.count("quote") != 2 || f.log.count("payload") != 0 || f.log.count("restore") != 0 || f.log.count("send") != 0 {
		t.Fatalf("expected flow to stop after precise quote: %v", f.log.calls)
	}

	want := []State{StateIdle, StateQuotingAvailable, StateQuotingPrecise, StateFailed}
	if len(res.Trace) != len(want) {
		t.Fatalf("unexpected trace %v", res.Trace)
	}
	for i := range want {
		if res.Trace[i] != want[i] {
			t.Fatalf("trace[%d] = %s, want %s", i, res.Trace[i], want[i])
		}
	}
}

func TestTargetedSwapPayloadFailureNeverSigns(t *testing.T) {
	f := newFixture(t)
	f.quoter.payloadErr = apperr.New(apperr.CodeRPCUnavailable, "swap endpoint down")

	res, err := f.orch.ExecuteTargetedSwap(context.Background(), f.request("10"))
	if !errors.Is(err, apperr.ErrRPCUnavailable) {
		t.Fatalf("expected rpc unavailable, got %v", err)
	}
	if f.log.count("payload") != 1 {
		t.Fatalf("expected one payload request, got %v", f.log.calls)
	}
	if n := f.log.count("restore") + f.log.count("sign") + f.log.count("send"); n != 0 {
		t.Fatalf("expected no key restore, signing or broadcast, got %v", f.log.calls)
	}
	if res.State != StateFailed || res.Trace[len(res.Trace)-2] != StateAwaitingTransaction {
		t.Fatalf("unexpected trace %v", res.Trace)
	}
	if res.Signature != "" {
		t.Fatalf("expected no signature, got %s", res.Signature)
	}
}

func TestTargetedSwapBalanceBelowReserve(t *testing.T) {
	f := newFixture(t)
	f.balances.lamports = 5_000_000

	_, err := f.orch.ExecuteTargetedSwap(context.Background(), f.request("1"))
	var ife *InsufficientFundsError
	if !errors.As(err, &ife) || !ife.MaxAchievable.IsZero() {
		t.Fatalf("expected insufficient funds with zero max, got %v", err)
	}
	if f.log.count("quote") != 0 {
		t.Fatalf("expected no quotes when balance is within reserve")
	}
}

func TestTargetedSwapNoRoute(t *testing.T) {
	f := newFixture(t)
	f.quoter.noRoute = true

	res, err := f.orch.ExecuteTargetedSwap(context.Background(), f.request("1"))
	if apperr.CodeOf(err) != apperr.CodeNoRoute {
		t.Fatalf("expected no route, got %v", err)
	}
	if res.State != StateFailed || f.log.count("payload") != 0 {
		t.Fatalf("expected failure before payload, got %+v", res)
	}
}

func TestTargetedSwapBroadcastFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.submitter.sendErr = apperr.New(apperr.CodeBroadcast, "blockhash not found")

	res, err := f.orch.ExecuteTargetedSwap(context.Background(), f.request("10"))
	if !errors.Is(err, apperr.ErrBroadcast) {
		t.Fatalf("expected broadcast error, got %v", err)
	}
	if f.log.count("send") != 1 {
		t.Fatalf("expected a single send attempt, got %d", f.log.count("send"))
	}
	if res.State != StateFailed || res.Trace[len(res.Trace)-2] != StateBroadcasting {
		t.Fatalf("unexpected trace %v", res.Trace)
	}
	if len(f.keys.restored[0].Bytes()) != 0 {
		t.Fatalf("expected key to be wiped after failed broadcast")
	}
}

func TestTargetedSwapKeyRestoreFailure(t *testing.T) {
	f := newFixture(t)
	f.keys.err = apperr.New(apperr.CodeDecryption, "bad key")

	_, err := f.orch.ExecuteTargetedSwap(context.Background(), f.request("10"))
	if !errors.Is(err, apperr.ErrDecryption) {
		t.Fatalf("expected decryption error, got %v", err)
	}
	if f.log.count("send") != 0 {
		t.Fatalf("expected no broadcast without a key")
	}
}

func TestPreviewDoesNotBuildTransaction(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Preview(context.Background(), f.request("10"))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if res.State != StateQuotingPrecise || res.InputLamports != 66_666_667 {
		t.Fatalf("unexpected preview %+v", res)
	}
	if f.log.count("payload") != 0 || f.log.count("restore") != 0 {
		t.Fatalf("preview must stop after quoting: %v", f.log.calls)
	}
}

func TestExactInSwap(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.ExecuteExactInSwap(context.Background(), ExactInRequest{
		Wallet: f.wallet, TargetToken: "USDC", InputAmount: decimal.RequireFromString("0.05"), SlippageBps: 50,
	})
	if err != nil {
		t.Fatalf("exact in: %v", err)
	}
	if res.InputLamports != 50_000_000 || res.ExpectedUnits != 7_500_000 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.log.count("quote") != 1 {
		t.Fatalf("expected a single quote")
	}

	_, err = f.orch.ExecuteExactInSwap(context.Background(), ExactInRequest{
		Wallet: f.wallet, TargetToken: "USDC", InputAmount: decimal.RequireFromString("0.099"), SlippageBps: 50,
	})
	var ife *InsufficientFundsError
	if !errors.As(err, &ife) || ife.Symbol != tokens.NativeSymbol {
		t.Fatalf("expected SOL insufficient funds, got %v", err)
	}
}

func TestNeededInput(t *testing.T) {
	cases := []struct {
		spendable, target, achievable, want uint64
	}{
		{95_000_000, 10_000_000, 14_250_000, 66_666_667},
		{100, 50, 100, 50},
		{100, 100, 100, 100},
		{100, 101, 100, 100},
		{100, 1, 0, 0},
		{^uint64(0), ^uint64(0), 1, ^uint64(0)},
	}
	for _, tc := range cases {
		if got := NeededInput(tc.spendable, tc.target, tc.achievable); got != tc.want {
			t.Fatalf("NeededInput(%d, %d, %d) = %d, want %d", tc.spendable, tc.target, tc.achievable, got, tc.want)
		}
	}
}
