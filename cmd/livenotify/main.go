package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"livenotify/internal/autopost"
	"livenotify/internal/bot"
	"livenotify/internal/config"
	"livenotify/internal/ingest"
	"livenotify/internal/lifecycle"
	"livenotify/internal/poller"
	"livenotify/internal/scheduler"
	"livenotify/internal/storage"
	"livenotify/internal/telemetry"
	"livenotify/internal/youtube"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("livenotify exited", "error", err)
		os.Exit(1)
	}
	log.Info("livenotify stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "livenotify", version, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("flush telemetry", "error", err)
		}
	}()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			return err
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		return err
	}
	defer func() { _ = store.Close() }()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	yt := youtube.New(httpClient, youtube.Options{
		APIKey:      cfg.YouTubeAPIKey,
		Spacing:     cfg.RequestSpacing,
		MaxRetries:  cfg.MaxRetries,
		Concurrency: cfg.PollWorkers,
		CacheTTL:    cfg.CacheTTL,
		DailyLimit:  cfg.QuotaDailyLimit,
	}, log.With("component", "youtube"))

	reset, err := youtube.NewDailyReset(yt.Quota(), cfg.ResetLocation(), log.With("component", "quota"))
	if err != nil {
		return err
	}
	reset.Start()
	defer reset.Stop()

	api, err := bot.Connect(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot", "error", err)
		return err
	}

	machine := lifecycle.NewMachine(store, lifecycle.NewTracker(cfg.ArchiveMaxChecks), log.With("component", "lifecycle"))
	gate := autopost.NewGate(cfg.Policy, store, bot.NewNotifier(api, cfg.ChatIDs, log.With("component", "notifier")), log.With("component", "autopost"))
	sched := scheduler.New(store, yt, machine, gate, poller.New(poller.Config{
		ActiveInterval: cfg.LivePollInterval,
		CompletedMin:   cfg.CompletedMinInterval,
		CompletedMax:   cfg.CompletedMaxInterval,
		ArchiveMinAge:  cfg.ArchiveMinAge,
	}), cfg.PollWorkers, log.With("component", "scheduler"))
	feed := ingest.New(httpClient, cfg.ChannelID, log.With("component", "ingest"))
	b := bot.New(api, cfg, sched, yt, store, log.With("component", "bot"))

	log.Info("starting livenotify",
		"channel_id", cfg.ChannelID,
		"chats", len(cfg.ChatIDs),
		"policy", cfg.Policy.String(),
		"poll_interval", cfg.LivePollInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		feed.Run(gctx, sched, cfg.IngestInterval)
		return nil
	})
	g.Go(func() error {
		b.Run(gctx)
		return nil
	})
	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
