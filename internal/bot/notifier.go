package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/notification"
)

// Send implements notification.Notifier by messaging the destination user's
// chat. Users who turned notifications off are skipped.
func (b *Bot) Send(ctx context.Context, message notification.Message) error {
	user, err := b.users.Get(ctx, message.Destination)
	if err != nil {
		return err
	}
	if !user.NotificationsEnabled || user.TelegramID == 0 {
		return nil
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(user.TelegramID, message.Body)); err != nil {
		return apperr.Wrap(apperr.CodeRPCUnavailable, "telegram send", err)
	}
	return nil
}

var _ notification.Notifier = (*Bot)(nil)
