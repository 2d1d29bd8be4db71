// Package bot is the Telegram surface: it delivers transition
// notifications and serves the operator commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"livenotify/internal/autopost"
	"livenotify/internal/config"
	"livenotify/internal/lifecycle"
	"livenotify/internal/model"
	"livenotify/internal/scheduler"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Engine is the poll loop as seen by the operator commands.
type Engine interface {
	Status() scheduler.Status
	Track(ctx context.Context, id string) (lifecycle.RegisterResult, error)
}

// QuotaAdmin exposes the metadata client's quota to operators.
type QuotaAdmin interface {
	QuotaState() model.QuotaState
	ResetQuota()
}

// VideoReader looks up stored videos.
type VideoReader interface {
	GetVideo(ctx context.Context, videoID string) (*model.VideoRecord, error)
}

// Bot handles operator commands.
type Bot struct {
	api    telegramAPI
	cfg    *config.Config
	engine Engine
	quota  QuotaAdmin
	store  VideoReader
	policy autopost.Policy
	log    *slog.Logger
}

// Connect authenticates against the Bot API.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

// New creates a Bot over an authenticated API client.
func New(api *tgbotapi.BotAPI, cfg *config.Config, engine Engine, quota QuotaAdmin, store VideoReader, log *slog.Logger) *Bot {
	return &Bot{
		api:    api,
		cfg:    cfg,
		engine: engine,
		quota:  quota,
		store:  store,
		policy: cfg.Policy,
		log:    log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	if msg.From == nil || !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(chatID)
	case "quota":
		b.handleQuota(chatID)
	case "resetquota":
		b.handleResetQuota(chatID, msg.From)
	case cmdTrack:
		b.handleTrack(ctx, chatID, args)
	case "video":
		b.handleVideo(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
