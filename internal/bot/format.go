package bot

import (
	"fmt"
	"strings"
	"time"

	"livenotify/internal/autopost"
	"livenotify/internal/lifecycle"
	"livenotify/internal/model"
	"livenotify/internal/scheduler"
)

const (
	watchURL   = "https://www.youtube.com/watch?v="
	timeLayout = "2006-01-02 15:04 UTC"
)

// WatchURL returns the public watch page of a video.
func WatchURL(videoID string) string {
	return watchURL + videoID
}

// FormatNotification formats a transition as a Telegram message.
func FormatNotification(rec model.VideoRecord, kind model.TransitionKind) string {
	var b strings.Builder
	switch kind {
	case model.TransitionLiveStarted:
		b.WriteString("🔴 LIVE now")
	case model.TransitionLiveEnded:
		b.WriteString("Stream ended")
	case model.TransitionArchiveAvailable:
		b.WriteString("Archive available")
	default:
		b.WriteString(string(kind))
	}
	b.WriteString("\n\n")
	if rec.Title != "" {
		b.WriteString(rec.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(WatchURL(rec.VideoID))
	return b.String()
}

// FormatStatus formats the poll loop snapshot.
func FormatStatus(st scheduler.Status, policy autopost.Policy) string {
	var b strings.Builder
	phase := string(st.Phase)
	if phase == "" {
		phase = "starting"
	}
	fmt.Fprintf(&b, "Phase: %s\n", phase)
	fmt.Fprintf(&b, "Tracked: %d active, %d awaiting archive\n", st.Active, st.Ended)
	if !st.LastCycle.IsZero() {
		fmt.Fprintf(&b, "Last cycle: %s (%d polled)\n", formatTime(st.LastCycle), st.LastPolled)
	}
	if !st.NextCycle.IsZero() {
		fmt.Fprintf(&b, "Next cycle: %s\n", formatTime(st.NextCycle))
	}
	fmt.Fprintf(&b, "Auto-post: %s", policy)
	return b.String()
}

// FormatQuota formats the quota counters.
func FormatQuota(q model.QuotaState) string {
	state := "ok"
	if q.Exceeded {
		state = "EXCEEDED (use /resetquota once replenished)"
	}
	return fmt.Sprintf("Quota: %d / %d units used, %d left\nState: %s", q.UsedUnits, q.DailyLimit, q.Remaining(), state)
}

// FormatVideo formats a stored record.
func FormatVideo(rec *model.VideoRecord) string {
	var b strings.Builder
	title := rec.Title
	if title == "" {
		title = rec.VideoID
	}
	fmt.Fprintf(&b, "%s [%s]\n", title, rec.Category)
	if !rec.RepresentativeTime.IsZero() {
		fmt.Fprintf(&b, "%s: %s\n", timeLabel(rec.Category), formatTime(rec.RepresentativeTime))
	}
	if rec.IsPremiere {
		b.WriteString("Premiere\n")
	}
	notified := "no"
	if rec.Notified {
		notified = "yes"
	}
	fmt.Fprintf(&b, "Notified: %s\n", notified)
	b.WriteString(WatchURL(rec.VideoID))
	return b.String()
}

// FormatTrackResult formats the outcome of /track.
func FormatTrackResult(out lifecycle.RegisterResult) string {
	rec := out.Record
	switch {
	case out.Ambiguous:
		return "The provider returned incomplete live details; will retry on the next cycle."
	case out.Duplicate:
		return fmt.Sprintf("%s duplicates an already registered video.", rec.VideoID)
	case out.Ignored:
		return fmt.Sprintf("%s stays %s.", rec.VideoID, rec.Category)
	case out.Event != nil:
		return fmt.Sprintf("%s: %s → %s (%s)", rec.VideoID, out.Event.From, out.Event.To, out.Event.Kind)
	case out.Created:
		return fmt.Sprintf("Registered %s as %s.", rec.VideoID, rec.Category)
	}
	return fmt.Sprintf("%s is %s, no change.", rec.VideoID, rec.Category)
}

func timeLabel(c model.Category) string {
	switch c {
	case model.CategorySchedule:
		return "Scheduled"
	case model.CategoryLive:
		return "Started"
	case model.CategoryCompleted, model.CategoryArchive:
		return "Ended"
	default:
		return "Published"
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
