package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/ledger"
	"github.com/obverse/obverse/internal/logging"
	"github.com/obverse/obverse/internal/notification"
	"github.com/obverse/obverse/internal/tokens"
	"github.com/obverse/obverse/internal/wallet"
)

type merchantWallets map[string]wallet.Wallet

func (m merchantWallets) PrimaryForUser(_ context.Context, userID string) (wallet.Wallet, error) {
	w, ok := m[userID]
	if !ok {
		return wallet.Wallet{}, apperr.NotFound("wallet not found")
	}
	return w, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, ledger.Ledger, *notification.Recorder, *clock) {
	t.Helper()
	wallets := merchantWallets{
		"merchant-1": {ID: "wallet-1", UserID: "merchant-1", Address: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", Chain: wallet.ChainSolana, Active: true},
	}
	ledgerBackend := ledger.NewInMemory()
	recorder := &notification.Recorder{}
	svc := NewService(NewMemoryRepository(), wallets, tokens.NewRegistry(), ledgerBackend, recorder, logging.Discard())
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = c.now
	return svc, ledgerBackend, recorder, c
}

func signature(b byte) string {
	var sig solana.Signature
	for i := range sig {
		sig[i] = b
	}
	return sig.String()
}

func TestCreateLinkTargetsMerchantWallet(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	link, err := svc.Create(context.Background(), CreateInput{
		MerchantUserID: "merchant-1",
		Amount:         decimal.RequireFromString("12.50"),
		Token:          "usdc",
		SingleUse:      true,
		ExpiresIn:      time.Hour,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(link.ID) < 10 || link.ID[:3] != "pl_" {
		t.Fatalf("unexpected link id %q", link.ID)
	}
	if link.Address != "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T" || link.TokenSymbol != "USDC" || link.Amount != "12.5" {
		t.Fatalf("unexpected link %+v", link)
	}
	if link.Status != StatusActive || link.ExpiresAt == nil {
		t.Fatalf("expected active link with expiry, got %+v", link)
	}
}

func TestCreateLinkValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	cases := []CreateInput{
		{MerchantUserID: "merchant-1", Amount: decimal.Zero, Token: "USDC"},
		{MerchantUserID: "merchant-1", Amount: decimal.RequireFromString("1.0000001"), Token: "USDC"},
		{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(1), Token: "DOGE"},
		{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(1), Token: "USDC", WebhookURL: "ftp://example.com/hook"},
		{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(1), Token: "USDC", ExpiresIn: 31 * 24 * time.Hour},
		{MerchantUserID: "", Amount: decimal.NewFromInt(1), Token: "USDC"},
	}
	for i, in := range cases {
		if _, err := svc.Create(ctx, in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if _, err := svc.Create(ctx, CreateInput{MerchantUserID: "stranger", Amount: decimal.NewFromInt(1), Token: "USDC"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for merchant without wallet, got %v", err)
	}
}

func TestConfirmSingleUseLinkClosesAndRecords(t *testing.T) {
	svc, ledgerBackend, recorder, _ := newTestService(t)
	ctx := context.Background()
	link, err := svc.Create(ctx, CreateInput{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(5), Token: "USDT", SingleUse: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	paid, err := svc.Confirm(ctx, link.ID, ConfirmInput{TxHash: signature(7), PaidByUserID: "payer-1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if paid.Status != StatusPaid || paid.Payments != 1 || paid.PaymentTxHash != signature(7) || paid.PaidAt == nil {
		t.Fatalf("unexpected paid link %+v", paid)
	}

	history, err := ledgerBackend.ListByWallet(ctx, "wallet-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Type != ledger.TypeReceive || history[0].Status != ledger.StatusConfirmed || history[0].Amount != "5" {
		t.Fatalf("unexpected ledger %+v", history)
	}

	msgs := recorder.Messages()
	if len(msgs) != 1 || msgs[0].Kind != KindPaymentReceived || msgs[0].Destination != "merchant-1" {
		t.Fatalf("unexpected notifications %+v", msgs)
	}

	if _, err := svc.Confirm(ctx, link.ID, ConfirmInput{TxHash: signature(8)}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict confirming a paid link, got %v", err)
	}
}

func TestConfirmReusableLinkStaysActive(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	link, err := svc.Create(ctx, CreateInput{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(1), Token: "USDC"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Confirm(ctx, link.ID, ConfirmInput{TxHash: signature(1)}); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, err := svc.Confirm(ctx, link.ID, ConfirmInput{TxHash: signature(1)}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for a repeated signature, got %v", err)
	}
	again, err := svc.Confirm(ctx, link.ID, ConfirmInput{TxHash: signature(2)})
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if again.Status != StatusActive || again.Payments != 2 {
		t.Fatalf("expected active link with two payments, got %+v", again)
	}
	if _, err := svc.Confirm(ctx, link.ID, ConfirmInput{TxHash: "not-a-signature"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for a bad signature, got %v", err)
	}
}

func TestExpiredLinksRejectPaymentAndAreSwept(t *testing.T) {
	svc, _, _, c := newTestService(t)
	ctx := context.Background()
	short, err := svc.Create(ctx, CreateInput{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(1), Token: "USDC", ExpiresIn: time.Hour})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other, err := svc.Create(ctx, CreateInput{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(2), Token: "USDC", ExpiresIn: time.Hour})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	open, err := svc.Create(ctx, CreateInput{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(3), Token: "USDC"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c.t = c.t.Add(2 * time.Hour)

	got, err := svc.Get(ctx, short.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("expected expired on read, got %s", got.Status)
	}
	if _, err := svc.Confirm(ctx, short.ID, ConfirmInput{TxHash: signature(3)}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict paying an expired link, got %v", err)
	}

	n, err := svc.ExpireDue(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected sweep to expire the remaining overdue link, got %d", n)
	}
	if got, _ := svc.Get(ctx, other.ID); got.Status != StatusExpired {
		t.Fatalf("expected swept link expired, got %s", got.Status)
	}

	active, err := svc.ListByMerchant(ctx, "merchant-1", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != open.ID {
		t.Fatalf("expected only the open link, got %+v", active)
	}
	all, _ := svc.ListByMerchant(ctx, "merchant-1", false)
	if len(all) != 3 {
		t.Fatalf("expected three links, got %d", len(all))
	}
}

func TestCancelLink(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	link, err := svc.Create(ctx, CreateInput{MerchantUserID: "merchant-1", Amount: decimal.NewFromInt(1), Token: "PYUSD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := svc.Cancel(ctx, link.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := svc.Cancel(ctx, link.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on second cancel, got %v", err)
	}
	if _, err := svc.Get(ctx, "pl_missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
