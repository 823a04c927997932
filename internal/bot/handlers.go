package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/obverse/obverse/internal/conversation"
	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/identity"
	"github.com/obverse/obverse/internal/swap"
	"github.com/obverse/obverse/internal/wallet"
)

const (
	callbackBuyPrefix = "buy:"
	callbackConfirm   = "confirm"
	callbackCancel    = "cancel"
	historyLimit      = 10
	explorerTxURL     = "https://solscan.io/tx/"
)

const helpText = `Available commands

/start - Create your account and wallet
/help - Show this help message
/fund - Show how to deposit SOL
/balance - Check your wallet balance
/buy - Buy stablecoins with SOL
/history - Show recent transactions
/cancel - Cancel the purchase in progress`

func (b *Bot) onCommand(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	switch m.Command() {
	case "start":
		b.start(ctx, m)
	case "help":
		b.reply(chatID, helpText)
	case "fund":
		b.fund(ctx, m)
	case "balance":
		b.balance(ctx, m)
	case "buy":
		b.buy(ctx, m)
	case "history":
		b.history(ctx, m)
	case "cancel":
		if err := b.flow.Cancel(ctx, sessionID(chatID)); err != nil {
			b.fail(chatID, "cancel", err)
			return
		}
		b.reply(chatID, "Cancelled.")
	default:
		b.reply(chatID, "Unknown command. Send /help to see what I can do.")
	}
}

func (b *Bot) start(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil {
		return
	}
	ob, err := b.users.EnsureRegistered(ctx, identity.Profile{TelegramID: m.From.ID, Username: m.From.UserName})
	if err != nil {
		b.fail(m.Chat.ID, "start", err)
		return
	}
	greeting := "Welcome back"
	if ob.Created {
		greeting = "Welcome to Obverse"
	}
	text := fmt.Sprintf("Hello %s! %s.\n\nYour Solana wallet address is:\n`%s`\n\nSend /fund to add SOL, then /buy to get stablecoins. Send /help for all commands.",
		escapeMarkdown(m.From.FirstName), greeting, ob.Wallet.Address)
	b.replyMarkdown(m.Chat.ID, text)
}

func (b *Bot) fund(ctx context.Context, m *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, m.Chat.ID, m.From)
	if !ok {
		return
	}
	in, err := b.funding.Instructions(ctx, user.ID)
	if err != nil {
		b.fail(m.Chat.ID, "fund", err)
		return
	}
	b.replyMarkdown(m.Chat.ID, in.Text())
}

func (b *Bot) balance(ctx context.Context, m *tgbotapi.Message) {
	_, w, ok := b.currentWallet(ctx, m.Chat.ID, m.From)
	if !ok {
		return
	}
	if _, err := b.funding.Reconcile(ctx, w.ID); err != nil {
		b.logger.Log(ctx, apperr.LogLevel(err), "reconcile before balance", slog.String("wallet_id", w.ID), slog.String("code", apperr.CodeOf(err).String()))
		b.logger.Debug("reconcile before balance cause", slog.String("wallet_id", w.ID), slog.Any("error", err))
	}
	bal, err := b.wallets.Balance(ctx, w.ID)
	if err != nil {
		b.fail(m.Chat.ID, "balance", err)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Wallet %s\n\nSOL: %s\n", shortAddress(bal.Address), bal.Native.String())
	for _, t := range bal.Tokens {
		fmt.Fprintf(&sb, "%s: %s\n", t.Symbol, t.Balance.StringFixed(2))
	}
	b.reply(m.Chat.ID, sb.String())
}

func (b *Bot) buy(ctx context.Context, m *tgbotapi.Message) {
	user, w, ok := b.currentWallet(ctx, m.Chat.ID, m.From)
	if !ok {
		return
	}
	if _, err := b.flow.Begin(ctx, sessionID(m.Chat.ID), user.ID, w.ID); err != nil {
		b.fail(m.Chat.ID, "buy", err)
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, 4)
	for _, t := range b.tokens.Stablecoins() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(t.Symbol, callbackBuyPrefix+t.Symbol)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Cancel", callbackCancel)))

	msg := tgbotapi.NewMessage(m.Chat.ID, "Which stablecoin do you want to buy?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(msg)
}

func (b *Bot) history(ctx context.Context, m *tgbotapi.Message) {
	_, w, ok := b.currentWallet(ctx, m.Chat.ID, m.From)
	if !ok {
		return
	}
	txs, err := b.swaps.History(ctx, w.ID, historyLimit)
	if err != nil {
		b.fail(m.Chat.ID, "history", err)
		return
	}
	if len(txs) == 0 {
		b.reply(m.Chat.ID, "No transactions yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Recent transactions\n\n")
	for _, tx := range txs {
		fmt.Fprintf(&sb, "%s  %s %s %s  %s\n", tx.CreatedAt.Format("2006-01-02 15:04"), tx.Type, tx.Amount, tx.TokenSymbol, tx.Status)
	}
	b.reply(m.Chat.ID, sb.String())
}

func (b *Bot) onText(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	sess, err := b.flow.Current(ctx, sessionID(chatID))
	if err != nil {
		if err == conversation.ErrNoSession {
			b.reply(chatID, "Send /help to see what I can do.")
			return
		}
		b.fail(chatID, "text", err)
		return
	}
	if sess.State != conversation.StateAwaitingAmount {
		b.reply(chatID, "Please use the buttons above, or send /cancel.")
		return
	}

	sess, err = b.flow.EnterAmount(ctx, sess.ID, m.Text)
	if err != nil {
		b.fail(chatID, "amount", err)
		return
	}

	preview, err := b.swaps.Preview(ctx, swap.BuyInput{WalletID: sess.WalletID, Token: sess.Token, Amount: sess.Amount})
	if err != nil {
		_ = b.flow.Cancel(ctx, sess.ID)
		b.fail(chatID, "preview", err)
		return
	}

	text := fmt.Sprintf("You will receive about %s %s for %s SOL (route: %s).\n\nConfirm the purchase?",
		preview.ExpectedOutput.String(), preview.TargetToken, preview.InputSOL().String(), preview.Route)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Confirm", callbackConfirm),
		tgbotapi.NewInlineKeyboardButtonData("Cancel", callbackCancel),
	))
	b.send(msg)
}

func (b *Bot) onCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.logger.Warn("answer callback", slog.Any("error", err))
	}
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	chatID := q.Message.Chat.ID
	id := sessionID(chatID)

	switch {
	case strings.HasPrefix(q.Data, callbackBuyPrefix):
		sess, err := b.flow.ChooseCurrency(ctx, id, strings.TrimPrefix(q.Data, callbackBuyPrefix))
		if err != nil {
			b.fail(chatID, "choose currency", err)
			return
		}
		b.edit(chatID, q.Message.MessageID, fmt.Sprintf("How much %s do you want to buy? Reply with an amount, for example 10.", sess.Token))

	case q.Data == callbackConfirm:
		done, err := b.flow.Confirm(ctx, id)
		if err != nil {
			b.fail(chatID, "confirm", err)
			return
		}
		b.edit(chatID, q.Message.MessageID, fmt.Sprintf("Buying %s %s...", done.Amount.String(), done.Token))
		out, err := b.swaps.Buy(ctx, swap.BuyInput{WalletID: done.WalletID, Token: done.Token, Amount: done.Amount, Quiet: true})
		if err != nil {
			b.fail(chatID, "swap", err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Done! You bought %s %s for %s SOL.\n%s%s",
			out.Result.ExpectedOutput.String(), out.Result.TargetToken, out.Result.InputSOL().String(), explorerTxURL, out.Result.Signature))

	case q.Data == callbackCancel:
		if err := b.flow.Cancel(ctx, id); err != nil {
			b.fail(chatID, "cancel", err)
			return
		}
		b.edit(chatID, q.Message.MessageID, "Cancelled.")
	}
}

func (b *Bot) currentUser(ctx context.Context, chatID int64, from *tgbotapi.User) (identity.User, bool) {
	if from == nil {
		return identity.User{}, false
	}
	user, err := b.users.GetByTelegramID(ctx, from.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		b.reply(chatID, "You don't have an account yet. Send /start first.")
		return identity.User{}, false
	}
	if err != nil {
		b.fail(chatID, "lookup user", err)
		return identity.User{}, false
	}
	return user, true
}

func (b *Bot) currentWallet(ctx context.Context, chatID int64, from *tgbotapi.User) (identity.User, wallet.Wallet, bool) {
	user, ok := b.currentUser(ctx, chatID, from)
	if !ok {
		return identity.User{}, wallet.Wallet{}, false
	}
	w, err := b.wallets.PrimaryForUser(ctx, user.ID)
	if err != nil {
		b.fail(chatID, "lookup wallet", err)
		return identity.User{}, wallet.Wallet{}, false
	}
	return user, w, true
}

// fail logs the code of err and replies with user-safe text only. The cause
// can carry provider text and is logged at debug.
func (b *Bot) fail(chatID int64, op string, err error) {
	b.logger.Log(context.Background(), apperr.LogLevel(err), "bot operation failed",
		slog.String("op", op), slog.Int64("chat_id", chatID), slog.String("code", apperr.CodeOf(err).String()))
	b.logger.Debug("bot operation failure cause", slog.String("op", op), slog.Any("error", err))
	b.reply(chatID, swap.UserMessage(err))
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	b.send(tgbotapi.NewEditMessageText(chatID, messageID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("telegram send", slog.Any("error", err))
	}
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
