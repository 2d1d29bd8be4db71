package youtube

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livenotify/internal/model"
)

// APIError is a non-200 response from the provider.
type APIError struct {
	StatusCode int
	Reason     string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Reason)
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if len(payload.Error.Errors) > 0 && payload.Error.Errors[0].Reason != "" {
			e.Reason = payload.Error.Errors[0].Reason
		} else {
			e.Reason = payload.Error.Message
		}
	}
	return e
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

type videoListResponse struct {
	Items []videoItem `json:"items"`
}

type videoItem struct {
	ID      string `json:"id"`
	Snippet struct {
		ChannelID            string    `json:"channelId"`
		Title                string    `json:"title"`
		PublishedAt          time.Time `json:"publishedAt"`
		LiveBroadcastContent string    `json:"liveBroadcastContent"`
	} `json:"snippet"`
	LiveStreamingDetails *struct {
		ScheduledStartTime *time.Time `json:"scheduledStartTime"`
		ActualStartTime    *time.Time `json:"actualStartTime"`
		ActualEndTime      *time.Time `json:"actualEndTime"`
	} `json:"liveStreamingDetails"`
}

func (it videoItem) toMetadata() model.Metadata {
	md := model.Metadata{
		VideoID:          it.ID,
		ChannelID:        it.Snippet.ChannelID,
		Title:            it.Snippet.Title,
		PublishedAt:      it.Snippet.PublishedAt,
		BroadcastContent: it.Snippet.LiveBroadcastContent,
	}
	if ld := it.LiveStreamingDetails; ld != nil {
		md.Live = &model.LiveDetails{
			ScheduledStart: ld.ScheduledStartTime,
			ActualStart:    ld.ActualStartTime,
			ActualEnd:      ld.ActualEndTime,
		}
	}
	return md
}
