package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"livenotify/internal/storage"
	"livenotify/internal/youtube"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to LiveNotify!

I watch the channel for scheduled streams, live broadcasts and archives, and post once per stage.

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Monitoring:
/status — poll phase and tracked videos
/video <id|url> — stored state of a video
/track <id|url> — fetch a video now and track it

Quota:
/quota — API units used today
/resetquota — clear the quota-exceeded flag after replenishment`)
}

func (b *Bot) handleStatus(chatID int64) {
	b.reply(chatID, FormatStatus(b.engine.Status(), b.policy))
}

func (b *Bot) handleQuota(chatID int64) {
	b.reply(chatID, FormatQuota(b.quota.QuotaState()))
}

func (b *Bot) handleResetQuota(chatID int64, from *tgbotapi.User) {
	before := b.quota.QuotaState()
	b.quota.ResetQuota()
	b.log.Info("quota reset requested", "user_id", from.ID, "username", from.UserName, "was_exceeded", before.Exceeded)
	b.reply(chatID, "Quota flag cleared.\n\n"+FormatQuota(b.quota.QuotaState()))
}

func (b *Bot) handleTrack(ctx context.Context, chatID int64, args string) {
	id, err := ParseVideoArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /track <video id or url>")
		return
	}

	out, err := b.engine.Track(ctx, id)
	switch {
	case errors.Is(err, youtube.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Video %s not found.", id))
		return
	case errors.Is(err, youtube.ErrQuotaExceeded), errors.Is(err, youtube.ErrDailyBudget):
		b.reply(chatID, "API quota is exhausted, try again later.\n\n"+FormatQuota(b.quota.QuotaState()))
		return
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Failed to track %s: %v", id, err))
		return
	}

	b.reply(chatID, FormatTrackResult(out))
}

func (b *Bot) handleVideo(ctx context.Context, chatID int64, args string) {
	id, err := ParseVideoArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /video <video id or url>")
		return
	}

	rec, err := b.store.GetVideo(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Video %s is not registered. Use /track %s to add it.", id, id))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatVideo(rec))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Refresh now", cmdTrack+":"+id),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send video info", "chat_id", chatID, "error", err)
	}
}
