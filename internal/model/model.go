// Package model defines the domain types used across the application.
package model

import "time"

// Category is the lifecycle stage of a video at a point in time.
type Category string

// Supported categories. Unknown is never persisted.
const (
	CategoryVideo     Category = "video"
	CategorySchedule  Category = "schedule"
	CategoryLive      Category = "live"
	CategoryCompleted Category = "completed"
	CategoryArchive   Category = "archive"
	CategoryUnknown   Category = "unknown"
)

// ParseCategory converts a stored string into a Category.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryVideo, CategorySchedule, CategoryLive, CategoryCompleted, CategoryArchive:
		return c, true
	}
	return CategoryUnknown, false
}

// Rank orders categories along Video|Schedule → Live → Completed → Archive.
// Video and Schedule share the first rank. Unknown ranks below everything.
func (c Category) Rank() int {
	switch c {
	case CategoryVideo, CategorySchedule:
		return 0
	case CategoryLive:
		return 1
	case CategoryCompleted:
		return 2
	case CategoryArchive:
		return 3
	}
	return -1
}

// LiveRelevant reports whether videos in this category are polled.
func (c Category) LiveRelevant() bool {
	return c == CategorySchedule || c == CategoryLive || c == CategoryCompleted
}

// LiveDetails mirrors the provider's live-streaming detail block.
// A nil time means the field was absent from the payload.
type LiveDetails struct {
	ScheduledStart *time.Time
	ActualStart    *time.Time
	ActualEnd      *time.Time
}

// Metadata is the raw per-video payload returned by the metadata client.
type Metadata struct {
	VideoID          string
	ChannelID        string
	Title            string
	PublishedAt      time.Time
	BroadcastContent string
	Live             *LiveDetails
}

// Broadcast content hints carried by the provider payload.
const (
	BroadcastNone     = "none"
	BroadcastUpcoming = "upcoming"
	BroadcastLive     = "live"
	BroadcastPremiere = "premiere"
)

// ClassificationResult is the classifier output for a single payload.
type ClassificationResult struct {
	VideoID            string
	ChannelID          string
	Title              string
	Category           Category
	RepresentativeTime time.Time
	IsPremiere         bool

	ScheduledStart       *time.Time
	ActualStart          *time.Time
	ActualEnd            *time.Time
	BroadcastContentHint string
}

// VideoRecord is the persisted last-known state of a video.
type VideoRecord struct {
	VideoID            string
	ChannelID          string
	Title              string
	Category           Category
	RepresentativeTime time.Time
	IsPremiere         bool
	Notified           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TrackingStatus is the status of an actively monitored video.
type TrackingStatus string

// Tracking statuses.
const (
	TrackingActive TrackingStatus = "active"
	TrackingEnded  TrackingStatus = "ended"
)

// TrackingEntry is one row of the in-memory tracking table.
type TrackingEntry struct {
	VideoID           string
	Status            TrackingStatus
	LastPollTime      *time.Time
	ArchiveCheckCount int
	// EndedAt is the broadcast end time; set once Status is ended.
	EndedAt *time.Time
}

// TransitionKind names a recognized lifecycle transition.
type TransitionKind string

// Recognized transitions.
const (
	TransitionLiveStarted      TransitionKind = "live_started"
	TransitionLiveEnded        TransitionKind = "live_ended"
	TransitionArchiveAvailable TransitionKind = "archive_available"
)

// TransitionEvent is handed to the auto-poster gate and then discarded.
type TransitionEvent struct {
	VideoID    string
	Kind       TransitionKind
	From       Category
	To         Category
	DetectedAt time.Time
}

// QuotaState is a snapshot of the process-wide API quota counters.
type QuotaState struct {
	UsedUnits  int
	DailyLimit int
	Exceeded   bool
}

// Remaining returns the units left in the daily budget.
func (q QuotaState) Remaining() int {
	if q.UsedUnits >= q.DailyLimit {
		return 0
	}
	return q.DailyLimit - q.UsedUnits
}
