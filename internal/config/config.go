// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"livenotify/internal/autopost"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	ChatIDs          []int64
	AllowedUsers     []int64

	YouTubeAPIKey string
	ChannelID     string

	DatabasePath string
	LogLevel     string

	QuotaDailyLimit    int
	QuotaResetTimezone string
	RequestSpacing     time.Duration
	MaxRetries         int
	CacheTTL           time.Duration

	LivePollInterval     time.Duration
	CompletedMinInterval time.Duration
	CompletedMaxInterval time.Duration
	ArchiveMinAge        time.Duration
	ArchiveMaxChecks     int
	PollWorkers          int
	IngestInterval       time.Duration

	// Policy is the resolved posting policy. AUTOPOST_MODE wins over the
	// POST_ON_* switches when set.
	Policy autopost.Policy

	OTLPEndpoint string
	OTLPInsecure bool
}

// Poll interval bounds accepted for LIVE_POLL_INTERVAL.
const (
	MinLivePollInterval = 15 * time.Minute
	MaxLivePollInterval = 60 * time.Minute
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var errs []error
	p := parser{errs: &errs}

	cfg := &Config{
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		ChatIDs:              p.idList("TELEGRAM_CHAT_IDS"),
		AllowedUsers:         p.idList("ALLOWED_USERS"),
		YouTubeAPIKey:        os.Getenv("YOUTUBE_API_KEY"),
		ChannelID:            os.Getenv("YOUTUBE_CHANNEL_ID"),
		DatabasePath:         envStr("DATABASE_PATH", "./data/livenotify.db"),
		LogLevel:             envStr("LOG_LEVEL", "info"),
		QuotaDailyLimit:      p.intVal("QUOTA_DAILY_LIMIT", 10000),
		QuotaResetTimezone:   envStr("QUOTA_RESET_TIMEZONE", "America/Los_Angeles"),
		RequestSpacing:       p.durationVal("REQUEST_SPACING", 500*time.Millisecond),
		MaxRetries:           p.intVal("MAX_RETRIES", 3),
		CacheTTL:             p.durationVal("CACHE_TTL", 7*24*time.Hour),
		LivePollInterval:     p.durationVal("LIVE_POLL_INTERVAL", 15*time.Minute),
		CompletedMinInterval: p.durationVal("COMPLETED_MIN_INTERVAL", 30*time.Minute),
		CompletedMaxInterval: p.durationVal("COMPLETED_MAX_INTERVAL", 3*time.Hour),
		ArchiveMinAge:        p.durationVal("ARCHIVE_MIN_AGE", time.Hour),
		ArchiveMaxChecks:     p.intVal("ARCHIVE_MAX_CHECKS", 4),
		PollWorkers:          p.intVal("POLL_WORKERS", 4),
		IngestInterval:       p.durationVal("INGEST_INTERVAL", 10*time.Minute),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:         p.boolVal("OTEL_INSECURE", false),
	}

	if mode := os.Getenv("AUTOPOST_MODE"); mode != "" {
		policy, err := autopost.ParseMode(mode)
		if err != nil {
			errs = append(errs, fmt.Errorf("AUTOPOST_MODE: %w", err))
		}
		cfg.Policy = policy
	} else {
		cfg.Policy = autopost.FromBooleans(
			p.boolVal("POST_ON_SCHEDULE", false),
			p.boolVal("POST_ON_LIVE", false),
			p.boolVal("POST_ON_ARCHIVE", false),
		)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and bounds.
func (c *Config) Validate() error {
	var errs []error
	required := []struct{ key, val string }{
		{"TELEGRAM_BOT_TOKEN", c.TelegramBotToken},
		{"YOUTUBE_API_KEY", c.YouTubeAPIKey},
		{"YOUTUBE_CHANNEL_ID", c.ChannelID},
	}
	for _, r := range required {
		if r.val == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}
	if len(c.ChatIDs) == 0 {
		errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_IDS is required"))
	}
	if c.LivePollInterval < MinLivePollInterval || c.LivePollInterval > MaxLivePollInterval {
		errs = append(errs, fmt.Errorf("LIVE_POLL_INTERVAL must be between %v and %v", MinLivePollInterval, MaxLivePollInterval))
	}
	if c.CompletedMinInterval <= 0 || c.CompletedMaxInterval < c.CompletedMinInterval {
		errs = append(errs, fmt.Errorf("COMPLETED_MIN_INTERVAL must be positive and not above COMPLETED_MAX_INTERVAL"))
	}
	positive := []struct {
		key string
		val int
	}{
		{"QUOTA_DAILY_LIMIT", c.QuotaDailyLimit},
		{"ARCHIVE_MAX_CHECKS", c.ArchiveMaxChecks},
		{"POLL_WORKERS", c.PollWorkers},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.key))
		}
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative"))
	}
	if _, err := time.LoadLocation(c.QuotaResetTimezone); err != nil {
		errs = append(errs, fmt.Errorf("QUOTA_RESET_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

// ResetLocation returns the time zone of the daily quota reset.
func (c *Config) ResetLocation() *time.Location {
	loc, err := time.LoadLocation(c.QuotaResetTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parser reads typed values and collects malformed ones.
type parser struct {
	errs *[]error
}

func (p parser) fail(key, raw string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
}

func (p parser) intVal(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return n
}

func (p parser) durationVal(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return d
}

func (p parser) boolVal(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return b
}

func (p parser) idList(key string) []int64 {
	var out []int64
	for _, s := range strings.Split(os.Getenv(key), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			p.fail(key, s, err)
			continue
		}
		out = append(out, id)
	}
	return out
}
