// Package ingest discovers new video IDs from the channel's public feed and
// hands them to the engine.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedURLBase is the channel feed endpoint; the channel ID is appended.
const FeedURLBase = "https://www.youtube.com/feeds/videos.xml?channel_id="

const (
	guidPrefix   = "yt:video:"
	maxFeedBytes = 5 * 1024 * 1024
	maxSeen      = 5000
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sink accepts candidate video IDs.
type Sink interface {
	Submit(ctx context.Context, ids []string) (int, error)
}

// Entry is one video announced by the feed.
type Entry struct {
	VideoID   string
	ChannelID string
	Title     string
	Published time.Time
	// Hint is the category hint of the source, empty for plain feeds.
	Hint string
}

// key identifies a feed entry for upstream dedup.
type key struct {
	videoID, title, hint, channel string
}

func (e Entry) key() key {
	return key{videoID: e.VideoID, title: e.Title, hint: e.Hint, channel: e.ChannelID}
}

// Feed polls a channel feed.
type Feed struct {
	client    HTTPClient
	url       string
	channelID string
	log       *slog.Logger
	timeout   time.Duration

	seen map[key]struct{}
}

// New creates a Feed for channelID.
func New(client HTTPClient, channelID string, log *slog.Logger) *Feed {
	return &Feed{
		client:    client,
		url:       FeedURLBase + channelID,
		channelID: channelID,
		log:       log,
		timeout:   30 * time.Second,
		seen:      make(map[key]struct{}),
	}
}

// Fetch downloads and parses the feed.
func (f *Feed) Fetch(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "LiveNotify/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		id := VideoID(item)
		if id == "" {
			continue
		}
		e := Entry{
			VideoID:   id,
			ChannelID: extension(item, "channelId"),
			Title:     item.Title,
		}
		if e.ChannelID == "" {
			e.ChannelID = f.channelID
		}
		if item.PublishedParsed != nil {
			e.Published = item.PublishedParsed.UTC()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// VideoID extracts the video ID of a feed item from the yt:videoId
// extension, falling back to the entry ID.
func VideoID(item *gofeed.Item) string {
	if id := extension(item, "videoId"); id != "" {
		return id
	}
	if strings.HasPrefix(item.GUID, guidPrefix) {
		return strings.TrimPrefix(item.GUID, guidPrefix)
	}
	return ""
}

func extension(item *gofeed.Item, name string) string {
	yt, ok := item.Extensions["yt"]
	if !ok {
		return ""
	}
	for _, ext := range yt[name] {
		if v := strings.TrimSpace(ext.Value); v != "" {
			return v
		}
	}
	return ""
}

// Poll fetches the feed once and submits entries not seen before.
func (f *Feed) Poll(ctx context.Context, sink Sink) (int, error) {
	entries, err := f.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	var ids []string
	var keys []key
	for _, e := range entries {
		k := e.key()
		if _, dup := f.seen[k]; dup {
			continue
		}
		ids = append(ids, e.VideoID)
		keys = append(keys, k)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := sink.Submit(ctx, ids)
	if err != nil {
		return n, fmt.Errorf("submit: %w", err)
	}
	if len(f.seen)+len(keys) > maxSeen {
		f.seen = make(map[key]struct{})
	}
	for _, k := range keys {
		f.seen[k] = struct{}{}
	}
	return n, nil
}

// Run polls the feed every interval until ctx is cancelled.
func (f *Feed) Run(ctx context.Context, sink Sink, interval time.Duration) {
	f.poll(ctx, sink)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx, sink)
		}
	}
}

func (f *Feed) poll(ctx context.Context, sink Sink) {
	n, err := f.Poll(ctx, sink)
	if err != nil {
		f.log.Error("ingest feed", "channel_id", f.channelID, "error", err)
		return
	}
	if n > 0 {
		f.log.Info("registered new videos", "channel_id", f.channelID, "count", n)
	}
}
