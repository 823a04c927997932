package bot

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/obverse/obverse/internal/conversation"
	"github.com/obverse/obverse/internal/funding"
	"github.com/obverse/obverse/internal/identity"
	"github.com/obverse/obverse/internal/ledger"
	"github.com/obverse/obverse/internal/metrics"
	"github.com/obverse/obverse/internal/swap"
	"github.com/obverse/obverse/internal/tokens"
	"github.com/obverse/obverse/internal/wallet"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Users resolves chat identities to application users.
type Users interface {
	EnsureRegistered(ctx context.Context, p identity.Profile) (identity.Onboarding, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (identity.User, error)
	Get(ctx context.Context, id string) (identity.User, error)
}

// Wallets reads custodial wallets.
type Wallets interface {
	PrimaryForUser(ctx context.Context, userID string) (wallet.Wallet, error)
	Balance(ctx context.Context, id string) (wallet.Balance, error)
}

// Funding explains deposits and detects new ones.
type Funding interface {
	Instructions(ctx context.Context, userID string) (funding.Instructions, error)
	Reconcile(ctx context.Context, walletID string) (funding.Deposit, error)
}

// Swaps previews, executes and lists purchases.
type Swaps interface {
	Preview(ctx context.Context, in swap.BuyInput) (swap.Result, error)
	Buy(ctx context.Context, in swap.BuyInput) (swap.Outcome, error)
	History(ctx context.Context, walletID string, limit int) ([]ledger.Transaction, error)
}

// Deps carries the bot's collaborators.
type Deps struct {
	API     API
	Users   Users
	Wallets Wallets
	Funding Funding
	Swaps   Swaps
	Flow    *conversation.Flow
	Tokens  *tokens.Registry
	Logger  *slog.Logger
	// UpdateTimeout bounds the handling of a single update, swaps included.
	UpdateTimeout time.Duration
}

// Bot is the Telegram front end. One instance serves one process.
type Bot struct {
	api           API
	users         Users
	wallets       Wallets
	funding       Funding
	swaps         Swaps
	flow          *conversation.Flow
	tokens        *tokens.Registry
	logger        *slog.Logger
	updateTimeout time.Duration

	mu       sync.Mutex
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds a bot. It does not contact Telegram until Start.
func New(d Deps) *Bot {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.UpdateTimeout <= 0 {
		d.UpdateTimeout = 2 * time.Minute
	}
	return &Bot{
		api:           d.API,
		users:         d.Users,
		wallets:       d.Wallets,
		funding:       d.Funding,
		swaps:         d.Swaps,
		flow:          d.Flow,
		tokens:        d.Tokens,
		logger:        d.Logger,
		updateTimeout: d.UpdateTimeout,
	}
}

// Start long-polls for updates until ctx is done or Stop is called. Each
// update is handled on its own goroutine.
func (b *Bot) Start(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)
	b.logger.Info("telegram bot polling")

	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			if !b.track() {
				continue
			}
			go func(u tgbotapi.Update) {
				defer b.wg.Done()
				// Handlers outlive a shutdown signal so an in-flight swap is
				// settled and recorded.
				hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.updateTimeout)
				defer cancel()
				b.handle(hctx, u)
			}(update)
		}
	}
}

// Stop ends polling and waits for in-flight updates.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		b.api.StopReceivingUpdates()
	})
	b.wg.Wait()
}

// track registers an in-flight update unless Stop has begun.
func (b *Bot) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Bot) handle(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("telegram update panicked", slog.Int("update_id", u.UpdateID), slog.Any("panic", r))
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		metrics.BotUpdates.WithLabelValues("callback").Inc()
		b.onCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.IsCommand():
		metrics.BotUpdates.WithLabelValues("command").Inc()
		b.onCommand(ctx, u.Message)
	case u.Message != nil:
		metrics.BotUpdates.WithLabelValues("text").Inc()
		b.onText(ctx, u.Message)
	default:
		metrics.BotUpdates.WithLabelValues("ignored").Inc()
	}
}

func sessionID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
