package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/obverse/obverse/internal/conversation"
	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/funding"
	"github.com/obverse/obverse/internal/identity"
	"github.com/obverse/obverse/internal/ledger"
	"github.com/obverse/obverse/internal/logging"
	"github.com/obverse/obverse/internal/notification"
	"github.com/obverse/obverse/internal/swap"
	"github.com/obverse/obverse/internal/tokens"
	"github.com/obverse/obverse/internal/wallet"
)

const (
	testChatID     = int64(4242)
	testTelegramID = int64(99)
	testAddress    = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.updates)
	}
}

// last returns the text and markup of the most recent outgoing message.
func (f *fakeAPI) last(t *testing.T) (string, any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("no messages sent")
	}
	switch m := f.sent[len(f.sent)-1].(type) {
	case tgbotapi.MessageConfig:
		return m.Text, m.ReplyMarkup
	case tgbotapi.EditMessageTextConfig:
		return m.Text, m.ReplyMarkup
	default:
		t.Fatalf("unexpected chattable %T", m)
		return "", nil
	}
}

type fakeUsers struct {
	user identity.User
}

func (f *fakeUsers) EnsureRegistered(_ context.Context, p identity.Profile) (identity.Onboarding, error) {
	f.user = identity.User{ID: "user-1", TelegramID: p.TelegramID, Username: p.Username, NotificationsEnabled: true}
	return identity.Onboarding{User: f.user, Wallet: testWallet(), Created: true}, nil
}

func (f *fakeUsers) GetByTelegramID(_ context.Context, id int64) (identity.User, error) {
	if f.user.ID == "" || f.user.TelegramID != id {
		return identity.User{}, apperr.NotFound("user not found")
	}
	return f.user, nil
}

func (f *fakeUsers) Get(_ context.Context, id string) (identity.User, error) {
	if f.user.ID != id {
		return identity.User{}, apperr.NotFound("user not found")
	}
	return f.user, nil
}

func testWallet() wallet.Wallet {
	return wallet.Wallet{ID: "wallet-1", UserID: "user-1", Address: testAddress, Active: true, Chain: wallet.ChainSolana}
}

type fakeWallets struct{}

func (fakeWallets) PrimaryForUser(context.Context, string) (wallet.Wallet, error) {
	return testWallet(), nil
}

func (fakeWallets) Balance(context.Context, string) (wallet.Balance, error) {
	return wallet.Balance{
		WalletID: "wallet-1",
		Address:  testAddress,
		Native:   decimal.RequireFromString("0.1"),
		Tokens:   []wallet.TokenBalance{{Symbol: "USDT", Balance: decimal.RequireFromString("3")}},
	}, nil
}

type fakeFunding struct {
	reconciled int
}

func (f *fakeFunding) Instructions(context.Context, string) (funding.Instructions, error) {
	return funding.Instructions{WalletID: "wallet-1", Address: testAddress, Asset: "SOL", FeeReserve: decimal.RequireFromString("0.005")}, nil
}

func (f *fakeFunding) Reconcile(context.Context, string) (funding.Deposit, error) {
	f.reconciled++
	return funding.Deposit{}, nil
}

type fakeSwaps struct {
	previewErr error
	bought     []swap.BuyInput
}

func (f *fakeSwaps) Preview(_ context.Context, in swap.BuyInput) (swap.Result, error) {
	if f.previewErr != nil {
		return swap.Result{}, f.previewErr
	}
	return swap.Result{TargetToken: in.Token, ExpectedOutput: in.Amount, InputLamports: 66_666_667, Route: "Whirlpool"}, nil
}

func (f *fakeSwaps) Buy(_ context.Context, in swap.BuyInput) (swap.Outcome, error) {
	f.bought = append(f.bought, in)
	return swap.Outcome{Result: swap.Result{TargetToken: in.Token, ExpectedOutput: in.Amount, InputLamports: 66_666_667, Signature: "5igSig", State: swap.StateSettled}}, nil
}

func (f *fakeSwaps) History(context.Context, string, int) ([]ledger.Transaction, error) {
	return []ledger.Transaction{{Type: ledger.TypeBuy, Amount: "10", TokenSymbol: "USDT", Status: ledger.StatusConfirmed, CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}}, nil
}

type harness struct {
	bot     *Bot
	api     *fakeAPI
	users   *fakeUsers
	funding *fakeFunding
	swaps   *fakeSwaps
}

func newHarness() *harness {
	h := &harness{
		api:     &fakeAPI{updates: make(chan tgbotapi.Update, 4)},
		users:   &fakeUsers{},
		funding: &fakeFunding{},
		swaps:   &fakeSwaps{},
	}
	registry := tokens.NewRegistry()
	h.bot = New(Deps{
		API:     h.api,
		Users:   h.users,
		Wallets: fakeWallets{},
		Funding: h.funding,
		Swaps:   h.swaps,
		Flow:    conversation.NewFlow(conversation.NewMemoryStore(), registry, time.Minute),
		Tokens:  registry,
		Logger:  logging.Discard(),
	})
	return h
}

func command(name string) tgbotapi.Update {
	text := "/" + name
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: testTelegramID, FirstName: "Ada", UserName: "ada"},
		Chat:      &tgbotapi.Chat{ID: testChatID, Type: "private"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func text(body string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: testTelegramID},
		Chat:      &tgbotapi.Chat{ID: testChatID, Type: "private"},
		Text:      body,
	}}
}

func callback(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: testTelegramID},
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: testChatID}},
		Data:    data,
	}}
}

func TestStartOnboardsAndShowsAddress(t *testing.T) {
	h := newHarness()
	h.bot.handle(context.Background(), command("start"))

	got, _ := h.api.last(t)
	if !strings.Contains(got, testAddress) || !strings.Contains(got, "Welcome to Obverse") {
		t.Fatalf("unexpected start reply %q", got)
	}
}

func TestCommandsRequireAccount(t *testing.T) {
	h := newHarness()
	h.bot.handle(context.Background(), command("fund"))

	got, _ := h.api.last(t)
	if !strings.Contains(got, "/start") {
		t.Fatalf("expected prompt to /start, got %q", got)
	}
}

func TestFundBalanceAndHistory(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.bot.handle(ctx, command("start"))

	h.bot.handle(ctx, command("fund"))
	if got, _ := h.api.last(t); !strings.Contains(got, testAddress) {
		t.Fatalf("expected deposit address, got %q", got)
	}

	h.bot.handle(ctx, command("balance"))
	got, _ := h.api.last(t)
	if !strings.Contains(got, "SOL: 0.1") || !strings.Contains(got, "USDT: 3.00") {
		t.Fatalf("unexpected balance reply %q", got)
	}
	if h.funding.reconciled != 1 {
		t.Fatalf("expected balance to reconcile deposits first")
	}

	h.bot.handle(ctx, command("history"))
	if got, _ := h.api.last(t); !strings.Contains(got, "buy 10 USDT") {
		t.Fatalf("unexpected history reply %q", got)
	}
}

func TestBuyConversation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.bot.handle(ctx, command("start"))

	h.bot.handle(ctx, command("buy"))
	_, markup := h.api.last(t)
	keyboard, ok := markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(keyboard.InlineKeyboard) != 4 {
		t.Fatalf("expected three stablecoins plus cancel, got %+v", markup)
	}

	h.bot.handle(ctx, callback("buy:USDT"))
	if got, _ := h.api.last(t); !strings.Contains(got, "How much USDT") {
		t.Fatalf("unexpected amount prompt %q", got)
	}

	h.bot.handle(ctx, text("10"))
	got, markup := h.api.last(t)
	if !strings.Contains(got, "0.066666667 SOL") {
		t.Fatalf("expected preview with input SOL, got %q", got)
	}
	if _, ok := markup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Fatalf("expected confirm keyboard")
	}
	if len(h.swaps.bought) != 0 {
		t.Fatalf("swap must not run before confirmation")
	}

	h.bot.handle(ctx, callback("confirm"))
	if len(h.swaps.bought) != 1 {
		t.Fatalf("expected one swap, got %d", len(h.swaps.bought))
	}
	in := h.swaps.bought[0]
	if in.Token != "USDT" || !in.Amount.Equal(decimal.NewFromInt(10)) || in.WalletID != "wallet-1" || !in.Quiet {
		t.Fatalf("unexpected swap input %+v", in)
	}
	if got, _ := h.api.last(t); !strings.Contains(got, "solscan.io/tx/5igSig") {
		t.Fatalf("expected explorer link, got %q", got)
	}

	// A second confirm has no session left.
	h.bot.handle(ctx, callback("confirm"))
	if len(h.swaps.bought) != 1 {
		t.Fatalf("expected confirm to be single use")
	}
}

func TestBuyPreviewFailureEndsConversation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.bot.handle(ctx, command("start"))
	h.swaps.previewErr = &swap.InsufficientFundsError{Symbol: "USDT", Target: decimal.NewFromInt(50), MaxAchievable: decimal.RequireFromString("14.25")}

	h.bot.handle(ctx, command("buy"))
	h.bot.handle(ctx, callback("buy:USDT"))
	h.bot.handle(ctx, text("50"))

	if got, _ := h.api.last(t); !strings.Contains(got, "at most 14.25 USDT") {
		t.Fatalf("expected insufficient funds message, got %q", got)
	}
	h.bot.handle(ctx, callback("confirm"))
	if len(h.swaps.bought) != 0 {
		t.Fatalf("expected no swap after failed preview")
	}
}

func TestCancelClearsConversation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.bot.handle(ctx, command("start"))
	h.bot.handle(ctx, command("buy"))
	h.bot.handle(ctx, command("cancel"))

	h.bot.handle(ctx, callback("buy:USDC"))
	if got, _ := h.api.last(t); !strings.Contains(got, "no purchase in progress") {
		t.Fatalf("expected no session after cancel, got %q", got)
	}
}

func TestNotifierSendsToTelegramID(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.bot.handle(ctx, command("start"))

	if err := h.bot.Send(ctx, notification.Message{Kind: notification.KindDepositReceived, Destination: "user-1", Body: "Received 1 SOL."}); err != nil {
		t.Fatalf("send: %v", err)
	}
	h.api.mu.Lock()
	msg, ok := h.api.sent[len(h.api.sent)-1].(tgbotapi.MessageConfig)
	h.api.mu.Unlock()
	if !ok || msg.ChatID != testTelegramID || msg.Text != "Received 1 SOL." {
		t.Fatalf("unexpected notification %+v", msg)
	}
}

func TestStartStopsWhenContextEnds(t *testing.T) {
	h := newHarness()
	h.users.user = identity.User{ID: "user-1", TelegramID: testTelegramID}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.bot.Start(ctx) }()
	h.api.updates <- command("help")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("bot did not stop")
	}
}

func TestFailLogsCodeWithoutProviderText(t *testing.T) {
	h := newHarness()
	core, logs := observer.New(zapcore.InfoLevel)
	h.bot.logger = logging.FromCore(core)

	providerBody := "RPC BODY: Program log: custom program error 0x1771"
	h.bot.fail(testChatID, "swap", apperr.Wrap(apperr.CodeBroadcast, "send transaction", errors.New(providerBody)))
	if text, _ := h.api.last(t); strings.Contains(text, "RPC BODY") || !strings.Contains(text, "rejected by the network") {
		t.Fatalf("expected user-safe reply, got %q", text)
	}
	h.bot.fail(testChatID, "swap", apperr.New(apperr.CodeInsufficientFunds, "insufficient funds"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries above debug, got %d", len(entries))
	}
	for _, e := range entries {
		for _, f := range e.Context {
			if strings.Contains(f.String, "RPC BODY") || f.Key == "error" {
				t.Fatalf("provider text logged above debug: %+v", e)
			}
		}
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["code"] != "broadcast" {
		t.Fatalf("expected broadcast failure at warn with code, got %+v", entries[0])
	}
	if entries[1].Level != zapcore.InfoLevel || entries[1].ContextMap()["code"] != "insufficient_funds" {
		t.Fatalf("expected business rejection at info, got %+v", entries[1])
	}
}
