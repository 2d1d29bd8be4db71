package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"livenotify/internal/model"
)

// Notifier delivers transition notifications to the configured chats.
type Notifier struct {
	api     telegramAPI
	chatIDs []int64
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewNotifier creates a Notifier posting to chatIDs.
func NewNotifier(api *tgbotapi.BotAPI, chatIDs []int64, log *slog.Logger) *Notifier {
	return newNotifier(api, chatIDs, log)
}

func newNotifier(api telegramAPI, chatIDs []int64, log *slog.Logger) *Notifier {
	return &Notifier{
		api:     api,
		chatIDs: chatIDs,
		// Telegram allows about 20 messages per second per bot.
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		log:     log,
	}
}

// Post sends the notification for rec to every chat. It succeeds only if
// every chat accepted the message.
func (n *Notifier) Post(ctx context.Context, rec model.VideoRecord, kind model.TransitionKind) error {
	if len(n.chatIDs) == 0 {
		return errors.New("no destination chats configured")
	}
	text := FormatNotification(rec, kind)

	var errs []error
	for _, chatID := range n.chatIDs {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.api.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		n.log.Debug("notification sent", "chat_id", chatID, "video_id", rec.VideoID, "kind", kind)
	}
	return errors.Join(errs...)
}
